package entitymanager

import (
	"context"
	"fmt"

	"github.com/rieonke/em4go/pkg/metamodel"
)

// Find returns the entity of type et with the given id. A managed instance
// is returned as-is; otherwise the backend is consulted and a stored entity
// becomes managed and receives PostLoad. (nil, nil) means not found.
// properties are accepted for API compatibility and currently ignored.
func (em *EntityManager) Find(ctx context.Context, et *metamodel.EntityType, id any, properties map[string]any) (any, error) {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.find(ctx, et, id, properties)
}

// Find is the typed form of EntityManager.Find.
func Find[T any](ctx context.Context, em *EntityManager, id any) (*T, error) {
	mm, err := em.Metamodel()
	if err != nil {
		return nil, err
	}
	et, err := mm.EntityOf(metamodel.TypeOf[T]())
	if err != nil {
		return nil, err
	}
	entity, err := em.Find(ctx, et, id, nil)
	if err != nil || entity == nil {
		return nil, err
	}
	return entity.(*T), nil
}

func (em *EntityManager) find(ctx context.Context, et *metamodel.EntityType, id any, properties map[string]any) (any, error) {
	mm, err := em.frozenMetamodel()
	if err != nil {
		return nil, err
	}
	if et == nil {
		return nil, fmt.Errorf("%w: nil entity type", metamodel.ErrUnknownEntityType)
	}
	if registered, err := mm.EntityByName(et.Name()); err != nil || registered != et {
		return nil, fmt.Errorf("%w: %s is not in this metamodel", metamodel.ErrUnknownEntityType, et.Name())
	}
	if len(properties) > 0 {
		em.logger.Debug("find properties ignored", "entity", et.Name(), "properties", len(properties))
	}

	id, err = et.ID().Coerce(id)
	if err != nil {
		return nil, err
	}
	key, err := metamodel.NewKey(et, id)
	if err != nil {
		return nil, err
	}

	if entity := em.pc.get(key); entity != nil {
		em.metrics.recordFind(findContextHit)
		return entity, nil
	}

	entity, err := em.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if entity == nil {
		em.metrics.recordFind(findMiss)
		return nil, nil
	}

	em.pc.put(key, entity)
	em.metrics.recordFind(findBackendHit)
	em.metrics.setManaged(em.pc.len())
	if err := em.deliver(et, metamodel.PostLoad, entity); err != nil {
		return entity, err
	}
	return entity, nil
}
