package thresholds

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// Store is the persistence the registry reads from and seeds.
type Store interface {
	ListThresholds(ctx context.Context) ([]model.Threshold, error)
	SetThreshold(ctx context.Context, threshold *model.Threshold) error
}

type key struct {
	kpi, dimension, value string
}

func keyOf(t model.Threshold) key {
	dim := t.Dimension
	if dim == "" {
		dim = model.DimensionGlobal
	}
	return key{t.KpiName, dim, t.DimensionValue}
}

// Registry is a read-mostly cache of thresholds keyed by KPI and scope.
type Registry struct {
	mu         sync.RWMutex
	thresholds map[key]model.Threshold
	store      Store
}

// NewRegistry creates a registry. A nil store gives a purely in-memory registry.
func NewRegistry(store Store) *Registry {
	return &Registry{
		thresholds: make(map[key]model.Threshold),
		store:      store,
	}
}

// Register adds or replaces a threshold in memory.
func (r *Registry) Register(t model.Threshold) {
	if t.Dimension == "" {
		t.Dimension = model.DimensionGlobal
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds[keyOf(t)] = t
}

// Reload replaces the cached set with the store's current content.
func (r *Registry) Reload(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.ListThresholds(ctx)
	if err != nil {
		return fmt.Errorf("reload thresholds: %w", err)
	}

	fresh := make(map[key]model.Threshold, len(list))
	for _, t := range list {
		fresh[keyOf(t)] = t
	}

	r.mu.Lock()
	r.thresholds = fresh
	r.mu.Unlock()
	return nil
}

// Seed stores every given threshold whose key is not configured yet and
// returns how many were written.
func (r *Registry) Seed(ctx context.Context, defaults []model.Threshold) (int, error) {
	if err := r.Reload(ctx); err != nil {
		return 0, err
	}

	written := 0
	for _, t := range defaults {
		r.mu.RLock()
		_, exists := r.thresholds[keyOf(t)]
		r.mu.RUnlock()
		if exists {
			continue
		}
		if r.store != nil {
			if err := r.store.SetThreshold(ctx, &t); err != nil {
				return written, fmt.Errorf("seed threshold %s: %w", t.KpiName, err)
			}
		}
		r.Register(t)
		written++
	}
	return written, nil
}

// Apply stores the thresholds unconditionally, overriding existing ones.
func (r *Registry) Apply(ctx context.Context, list []model.Threshold) error {
	for _, t := range list {
		if r.store != nil {
			if err := r.store.SetThreshold(ctx, &t); err != nil {
				return fmt.Errorf("apply threshold %s: %w", t.KpiName, err)
			}
		}
		r.Register(t)
	}
	return nil
}

// Lookup finds the threshold for a KPI, preferring the exact scope and
// falling back to the KPI's GLOBAL threshold.
func (r *Registry) Lookup(kpiName, dimension, dimensionValue string) (model.Threshold, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if dimension == "" {
		dimension = model.DimensionGlobal
	}
	if t, ok := r.thresholds[key{kpiName, dimension, dimensionValue}]; ok {
		return t, true
	}
	t, ok := r.thresholds[key{kpiName, model.DimensionGlobal, ""}]
	return t, ok
}

// All returns every cached threshold ordered by KPI and scope.
func (r *Registry) All() []model.Threshold {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Threshold, 0, len(r.thresholds))
	for _, t := range r.thresholds {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := keyOf(out[i]), keyOf(out[j])
		if a.kpi != b.kpi {
			return a.kpi < b.kpi
		}
		if a.dimension != b.dimension {
			return a.dimension < b.dimension
		}
		return a.value < b.value
	})
	return out
}
