// Package projection writes approval outcomes onto the governed entities that
// own them. Entity types are registered once at startup.
package projection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/workflow"
)

// Registry maps entity type tags to their stores and implements port.EntityProjector
type Registry struct {
	mu     sync.RWMutex
	stores map[entity.EntityType]port.EntityStore
}

// NewRegistry creates a registry holding the given stores
func NewRegistry(stores ...port.EntityStore) *Registry {
	r := &Registry{stores: make(map[entity.EntityType]port.EntityStore)}
	for _, s := range stores {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the store for s.Type()
func (r *Registry) Register(s port.EntityStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[s.Type()] = s
}

// Types returns the registered entity types in sorted order
func (r *Registry) Types() []entity.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]entity.EntityType, 0, len(r.stores))
	for t := range r.stores {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Supports reports whether entityType has a registered store
func (r *Registry) Supports(entityType entity.EntityType) bool {
	_, ok := r.store(entityType)
	return ok
}

func (r *Registry) store(entityType entity.EntityType) (port.EntityStore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[entityType]
	return s, ok
}

// Project loads the entity, sets its status and current step label, and saves
// it through the caller's transaction. Every failure, including an unknown
// entity type, is a *workflow.ProjectionError.
func (r *Registry) Project(ctx context.Context, ref entity.EntityRef, status entity.EntityStatus, currentStep *string) error {
	h, err := r.load(ctx, ref)
	if err != nil {
		return projectionError(ref, err)
	}

	h.SetStatus(status)
	h.SetCurrentStep(currentStep)
	if err := h.Save(ctx); err != nil {
		return projectionError(ref, err)
	}
	return nil
}

// Summary returns the display view of the entity
func (r *Registry) Summary(ctx context.Context, ref entity.EntityRef) (*entity.EntitySummary, error) {
	h, err := r.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return h.Summary(), nil
}

func (r *Registry) load(ctx context.Context, ref entity.EntityRef) (port.EntityHandle, error) {
	s, ok := r.store(ref.Type)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q: %w", ref.Type, workflow.ErrNotFound)
	}
	return s.Load(ctx, ref.ID)
}

func projectionError(ref entity.EntityRef, cause error) error {
	return &workflow.ProjectionError{EntityType: string(ref.Type), EntityID: ref.ID, Cause: cause}
}

var _ port.EntityProjector = (*Registry)(nil)
