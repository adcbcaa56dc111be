package entitymanager

import (
	"context"
	"fmt"

	"github.com/rieonke/em4go/pkg/metamodel"
)

// Flush writes every managed entity that differs from its stored form back
// to the backend, bracketed by the update callbacks. An entity whose id no
// longer matches the key it is managed under is rejected with an
// *IdentifierChangedError and nothing is written for it. Flush stops at the
// first error; entities written before it stay written.
func (em *EntityManager) Flush(ctx context.Context) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, entry := range em.pc.snapshot() {
		if err := em.updateInBackend(ctx, entry.key, entry.entity); err != nil {
			return err
		}
	}
	return nil
}

func (em *EntityManager) updateInBackend(ctx context.Context, key metamodel.Key, entity any) error {
	modified, err := em.backend.IsModified(ctx, key, entity)
	if err != nil {
		return fmt.Errorf("check %s for changes: %w", key, err)
	}
	if !modified {
		return nil
	}

	et := key.EntityType()
	if current := et.ID().Get(entity); current != key.ID() {
		em.logger.Warn("managed entity id changed",
			"entity", et.Name(),
			"expected", key.ID(),
			"actual", current)
		return &IdentifierChangedError{Entity: et.Name(), Expected: key.ID(), Actual: current}
	}

	if err := em.deliver(et, metamodel.PreUpdate, entity); err != nil {
		return err
	}
	if err := em.backend.Put(ctx, key, entity); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	em.metrics.recordFlushWrite()
	return em.deliver(et, metamodel.PostUpdate, entity)
}
