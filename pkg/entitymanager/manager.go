// Package entitymanager implements a client-local entity manager: a
// persistence context (first-level cache) of live entity instances kept in
// step with a storage.Backend, driven by an explicit NEW / MANAGED /
// DETACHED / REMOVED lifecycle.
//
// An entity's state is never stored. It is derived on every call from two
// sources: membership in the persistence context and presence in the
// backend. Persist and Remove write through to the backend immediately;
// changes to already-managed entities reach the backend only on Flush.
//
// An EntityManager belongs to one logical session. Public methods serialize
// on a single mutex; lifecycle callbacks run while it is held and must not
// call back into the same EntityManager.
package entitymanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/storage"
)

// Populator fills the metamodel with every entity type and must call
// Freeze before returning. It runs once, on first metamodel access.
type Populator func(m *metamodel.Metamodel) error

// EntityManager coordinates entity state transitions between the
// persistence context and the storage backend.
type EntityManager struct {
	mu        sync.Mutex
	backend   storage.Backend
	metamodel *metamodel.Metamodel
	populate  Populator
	pc        *persistenceContext
	logger    *slog.Logger
	metrics   *managerMetrics
}

// New creates an entity manager over backend and initializes the backend.
// The metamodel is populated lazily by populate.
func New(ctx context.Context, backend storage.Backend, populate Populator, opts ...Option) (*EntityManager, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if populate == nil {
		return nil, fmt.Errorf("metamodel populator cannot be nil")
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	em := &EntityManager{
		backend:   backend,
		metamodel: metamodel.New(),
		populate:  populate,
		pc:        newPersistenceContext(),
		logger:    o.logger,
	}

	if o.registerer != nil {
		m, err := newManagerMetrics(o.registerer, o.metricsLabels)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		em.metrics = m
	}

	if err := backend.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize storage backend: %w", err)
	}

	return em, nil
}

// Metamodel returns the populated, frozen metamodel. The first call runs the
// populator; ErrMetamodelNotFrozen is returned if it did not freeze.
func (em *EntityManager) Metamodel() (*metamodel.Metamodel, error) {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.frozenMetamodel()
}

func (em *EntityManager) frozenMetamodel() (*metamodel.Metamodel, error) {
	if !em.metamodel.IsFrozen() {
		if err := em.populate(em.metamodel); err != nil {
			return nil, fmt.Errorf("populate metamodel: %w", err)
		}
		if !em.metamodel.IsFrozen() {
			return nil, ErrMetamodelNotFrozen
		}
	}
	return em.metamodel, nil
}

// GenerateAndSetLocalID draws the next value from attr's generator, writes it
// onto entity and returns it. The value is unique within this process only.
func (em *EntityManager) GenerateAndSetLocalID(entity any, attr *metamodel.Attribute) (any, error) {
	if !attr.IsGenerated() {
		return nil, fmt.Errorf("%w: %s", ErrNoValueGenerator, attr.Name())
	}
	if isNilPointer(entity) {
		return nil, fmt.Errorf("%w: %T", ErrNilEntity, entity)
	}
	id := attr.Generator().Next()
	if err := attr.Set(entity, id); err != nil {
		return nil, fmt.Errorf("set generated id: %w", err)
	}
	return id, nil
}

// Persist makes entity MANAGED, writing it to the backend if it is new.
func (em *EntityManager) Persist(ctx context.Context, entity any) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.changeEntityState(ctx, entity, StateManaged)
}

// Detach removes entity from the persistence context; the backend keeps it.
func (em *EntityManager) Detach(ctx context.Context, entity any) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.changeEntityState(ctx, entity, StateDetached)
}

// Remove deletes entity from both the persistence context and the backend.
func (em *EntityManager) Remove(ctx context.Context, entity any) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.changeEntityState(ctx, entity, StateRemoved)
}

// Contains reports whether this exact instance is in the persistence context.
func (em *EntityManager) Contains(entity any) bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	_, ok := em.pc.keyOf(entity)
	return ok
}

// KeyOf returns the key a managed instance is registered under, or
// ErrNotManaged.
func (em *EntityManager) KeyOf(entity any) (metamodel.Key, error) {
	em.mu.Lock()
	defer em.mu.Unlock()
	key, ok := em.pc.keyOf(entity)
	if !ok {
		return metamodel.Key{}, fmt.Errorf("%w: %T", ErrNotManaged, entity)
	}
	return key, nil
}

// ManagedCount returns the number of entities in the persistence context
func (em *EntityManager) ManagedCount() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.pc.len()
}

// Clear detaches every managed entity. The backend is not touched.
// Entries are dropped under the key they were registered with, so an
// instance whose id was modified since is detached as well. The error is
// always nil.
func (em *EntityManager) Clear(ctx context.Context) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, entry := range em.pc.snapshot() {
		em.pc.remove(entry.key)
		em.metrics.recordTransition(StateManaged, StateDetached)
		em.logger.Debug("entity state transition",
			"entity", entry.key.EntityType().Name(),
			"key", entry.key.String(),
			"from", StateManaged.String(),
			"to", StateDetached.String())
	}
	em.metrics.setManaged(em.pc.len())
	return nil
}

// Close releases the backend if it holds resources.
func (em *EntityManager) Close() error {
	em.mu.Lock()
	defer em.mu.Unlock()
	if c, ok := em.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// deliver runs the callbacks for event and counts the delivery.
func (em *EntityManager) deliver(et *metamodel.EntityType, event metamodel.Event, entity any) error {
	if !et.HasCallbacks(event, entity) {
		return nil
	}
	em.metrics.recordCallback(event)
	return et.Deliver(event, entity)
}
