package selector

import (
	"errors"
	"testing"
	"time"
)

func testCatalog() *Catalog {
	return &Catalog{
		Models: []ModelConfig{
			{
				ID:           "atlas-small",
				Provider:     "anthropic",
				Capabilities: []string{"analysis", "planning"},
				CostPerUnit:  0.5,
				P50Latency:   Duration(400 * time.Millisecond),
				Quality:      0.7,
				Regions:      []string{"us-east-1", "eu-central-1"},
			},
			{
				ID:           "atlas-large",
				Provider:     "anthropic",
				Capabilities: []string{"analysis", "planning", "synthesis"},
				CostPerUnit:  3.0,
				P50Latency:   Duration(1500 * time.Millisecond),
				Quality:      0.95,
				Regions:      []string{"us-east-1"},
			},
			{
				ID:           "atlas-eu",
				Provider:     "bedrock",
				Capabilities: []string{"analysis"},
				CostPerUnit:  1.0,
				P50Latency:   Duration(800 * time.Millisecond),
				Quality:      0.85,
				Regions:      []string{"eu-central-1"},
			},
		},
		Regions: []RegionConfig{
			{ID: "us-east-1", ResidencyZone: "us"},
			{ID: "eu-central-1", ResidencyZone: "eu"},
		},
		ResidencyMap:  map[string]string{"germany": "eu", "france": "eu", "usa": "us"},
		TenantRegions: map[string]string{"tenant-eu": "eu-central-1"},
		DefaultRegion: "us-east-1",
	}
}

func TestResolveRegion_Priority(t *testing.T) {
	s := New(testCatalog())

	tests := []struct {
		name         string
		preferred    string
		userLocation string
		tenantID     string
		expected     string
	}{
		{"explicit preference wins", "eu-central-1", "usa", "tenant-eu", "eu-central-1"},
		{"residency mapping second", "", "germany", "tenant-x", "eu-central-1"},
		{"tenant default third", "", "", "tenant-eu", "eu-central-1"},
		{"global default last", "", "", "tenant-x", "us-east-1"},
		{"unknown location falls through", "", "atlantis", "tenant-eu", "eu-central-1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := s.ResolveRegion(tc.preferred, tc.userLocation, tc.tenantID)
			if got != tc.expected {
				t.Errorf("expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestSelectModel_RequirementFiltering(t *testing.T) {
	s := New(testCatalog())

	// Tight latency excludes atlas-large.
	sel, err := s.SelectModel("analysis", "us-east-1", Requirements{MaxLatency: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if sel.Primary.ID != "atlas-small" {
		t.Errorf("expected atlas-small, got %s", sel.Primary.ID)
	}
	if len(sel.Fallbacks) != 0 {
		t.Errorf("expected no fallbacks, got %d", len(sel.Fallbacks))
	}
}

func TestSelectModel_QualityTiebreak(t *testing.T) {
	s := New(testCatalog())

	// No requirements: both us-east-1 analysis models qualify with equal
	// load, so the higher quality model wins.
	sel, err := s.SelectModel("analysis", "us-east-1", Requirements{})
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if sel.Primary.ID != "atlas-large" {
		t.Errorf("expected atlas-large as primary, got %s", sel.Primary.ID)
	}
	if len(sel.Fallbacks) != 1 || sel.Fallbacks[0].ID != "atlas-small" {
		t.Errorf("expected atlas-small fallback, got %v", sel.Fallbacks)
	}
}

func TestSelectModel_LoadBalancing(t *testing.T) {
	s := New(testCatalog())

	// Load up the higher quality model; selection should shift to the
	// less loaded candidate.
	s.Acquire("atlas-large")
	s.Acquire("atlas-large")

	sel, err := s.SelectModel("analysis", "us-east-1", Requirements{})
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if sel.Primary.ID != "atlas-small" {
		t.Errorf("expected load to shift to atlas-small, got %s", sel.Primary.ID)
	}

	s.Release("atlas-large")
	s.Release("atlas-large")
	if s.Inflight("atlas-large") != 0 {
		t.Errorf("expected inflight 0 after release, got %d", s.Inflight("atlas-large"))
	}
}

func TestSelectModel_NoCandidate(t *testing.T) {
	s := New(testCatalog())

	_, err := s.SelectModel("synthesis", "eu-central-1", Requirements{})
	if !errors.Is(err, ErrNoCandidate) {
		t.Errorf("expected ErrNoCandidate, got %v", err)
	}

	_, err = s.SelectModel("analysis", "us-east-1", Requirements{MinQuality: 0.99})
	if !errors.Is(err, ErrNoCandidate) {
		t.Errorf("expected ErrNoCandidate for impossible quality, got %v", err)
	}
}

func TestRelease_NeverNegative(t *testing.T) {
	s := New(testCatalog())
	s.Release("atlas-small")
	if s.Inflight("atlas-small") != 0 {
		t.Errorf("expected inflight to stay at 0, got %d", s.Inflight("atlas-small"))
	}
}

func TestParseCatalog(t *testing.T) {
	data := []byte(`
models:
  - id: atlas-small
    provider: anthropic
    capabilities: [analysis]
    cost_per_unit: 0.5
    p50_latency: 400ms
    quality: 0.7
    regions: [us-east-1]
regions:
  - id: us-east-1
    residency_zone: us
default_region: us-east-1
`)
	cat, err := ParseCatalog(data)
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	if len(cat.Models) != 1 || cat.Models[0].ID != "atlas-small" {
		t.Errorf("unexpected models: %v", cat.Models)
	}
	if cat.Models[0].P50Latency.D() != 400*time.Millisecond {
		t.Errorf("expected 400ms latency, got %v", cat.Models[0].P50Latency)
	}
}

func TestParseCatalog_Empty(t *testing.T) {
	if _, err := ParseCatalog([]byte("models: []")); err == nil {
		t.Error("expected error for catalog with no models")
	}
}
