package selector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNoCandidate indicates no model satisfies the selection constraints.
var ErrNoCandidate = errors.New("no candidate model")

// Requirements bound an acceptable model choice. Zero values mean
// unconstrained.
type Requirements struct {
	// MaxLatency rejects models with a higher typical latency.
	MaxLatency time.Duration
	// MaxCostPerUnit rejects models that cost more per unit.
	MaxCostPerUnit float64
	// MinQuality rejects models below this quality score.
	MinQuality float64
}

// Selection is the outcome of a model choice: one primary model and an
// ordered fallback list.
type Selection struct {
	// Primary is the chosen model.
	Primary ModelConfig
	// Fallbacks are the remaining candidates in preference order.
	Fallbacks []ModelConfig
	// Region is the region the selection was made for.
	Region string
}

// Selector chooses models and regions against a catalog, tracking
// in-flight counts per model for load balancing.
type Selector struct {
	mu       sync.RWMutex
	catalog  *Catalog
	inflight map[string]int
}

// New creates a Selector over the given catalog.
func New(cat *Catalog) *Selector {
	return &Selector{
		catalog:  cat,
		inflight: make(map[string]int),
	}
}

// SetCatalog swaps the catalog. Used by the watcher on hot reload;
// in-flight counters survive the swap.
func (s *Selector) SetCatalog(cat *Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = cat
}

// ResolveRegion derives the execution region, in priority order: the
// caller's explicit preference, a data-residency mapping of the user's
// declared location, the tenant's default region, then the global default.
func (s *Selector) ResolveRegion(preferred, userLocation, tenantID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if preferred != "" {
		return preferred
	}
	if userLocation != "" {
		if zone, ok := s.catalog.ResidencyMap[userLocation]; ok {
			if region := s.catalog.regionForZone(zone); region != "" {
				return region
			}
		}
	}
	if region, ok := s.catalog.TenantRegions[tenantID]; ok {
		return region
	}
	return s.catalog.DefaultRegion
}

// SelectModel picks a primary model and ordered fallbacks for the given
// capability and region. Candidates must satisfy the requirements; ties
// are broken by current in-flight count (load balancing), then quality.
func (s *Selector) SelectModel(capability, region string, req Requirements) (Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []ModelConfig
	for _, m := range s.catalog.Models {
		if !m.HasCapability(capability) || !m.InRegion(region) {
			continue
		}
		if req.MaxLatency > 0 && m.P50Latency.D() > req.MaxLatency {
			continue
		}
		if req.MaxCostPerUnit > 0 && m.CostPerUnit > req.MaxCostPerUnit {
			continue
		}
		if req.MinQuality > 0 && m.Quality < req.MinQuality {
			continue
		}
		candidates = append(candidates, m)
	}

	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("%w: capability=%s region=%s", ErrNoCandidate, capability, region)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := s.inflight[candidates[i].ID], s.inflight[candidates[j].ID]
		if li != lj {
			return li < lj
		}
		return candidates[i].Quality > candidates[j].Quality
	})

	return Selection{
		Primary:   candidates[0],
		Fallbacks: candidates[1:],
		Region:    region,
	}, nil
}

// Acquire records an in-flight execution against a model.
func (s *Selector) Acquire(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[modelID]++
}

// Release records the end of an in-flight execution.
func (s *Selector) Release(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[modelID] > 0 {
		s.inflight[modelID]--
	}
}

// Inflight returns the current in-flight count for a model.
func (s *Selector) Inflight(modelID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight[modelID]
}
