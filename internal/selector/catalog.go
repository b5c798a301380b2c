// Package selector chooses an AI model and deployment region for a task,
// balancing requirement satisfaction against current load.
package selector

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so catalog files can use readable values
// like "400ms" or "2s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// ModelConfig describes one model available for selection.
type ModelConfig struct {
	// ID is the model identifier passed to providers.
	ID string `yaml:"id"`
	// Provider names the backing service (anthropic, bedrock).
	Provider string `yaml:"provider"`
	// Capabilities lists what the model can do (planning, analysis, synthesis).
	Capabilities []string `yaml:"capabilities"`
	// CostPerUnit is the PSU cost per 1k processing units.
	CostPerUnit float64 `yaml:"cost_per_unit"`
	// P50Latency is the typical response latency.
	P50Latency Duration `yaml:"p50_latency"`
	// Quality is a relative quality score in [0,1].
	Quality float64 `yaml:"quality"`
	// Regions lists the deployment regions this model is available in.
	Regions []string `yaml:"regions"`
}

// HasCapability returns true if the model declares the given capability.
func (m ModelConfig) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// InRegion returns true if the model is deployed in the given region.
func (m ModelConfig) InRegion(region string) bool {
	for _, r := range m.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// RegionConfig describes one deployment region.
type RegionConfig struct {
	// ID is the region identifier (us-east-1, eu-central-1, ...).
	ID string `yaml:"id"`
	// ResidencyZone is the data-residency zone this region satisfies
	// (us, eu, apac).
	ResidencyZone string `yaml:"residency_zone"`
}

// Catalog holds the models, regions, and mappings selection draws from.
type Catalog struct {
	// Models are the selectable models.
	Models []ModelConfig `yaml:"models"`
	// Regions are the known deployment regions.
	Regions []RegionConfig `yaml:"regions"`
	// ResidencyMap maps a user's declared location to a residency zone.
	ResidencyMap map[string]string `yaml:"residency_map"`
	// TenantRegions maps tenant IDs to their default region.
	TenantRegions map[string]string `yaml:"tenant_regions"`
	// DefaultRegion is the global fallback region.
	DefaultRegion string `yaml:"default_region"`
}

// LoadCatalog reads and parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML catalog bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(cat.Models) == 0 {
		return nil, fmt.Errorf("catalog declares no models")
	}
	return &cat, nil
}

// regionForZone returns the first region in the given residency zone.
func (c *Catalog) regionForZone(zone string) string {
	for _, r := range c.Regions {
		if r.ResidencyZone == zone {
			return r.ID
		}
	}
	return ""
}
