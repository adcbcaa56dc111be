package entitymanager

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/storage"
)

// resolveKey computes entity's key from its id attribute. An absent id is
// generated only when moving to MANAGED; for other targets the zero Key is
// returned, which resolveState treats as NEW. generated reports whether an
// id was written onto the entity.
func (em *EntityManager) resolveKey(et *metamodel.EntityType, entity any, target EntityState) (key metamodel.Key, generated bool, err error) {
	idAttr := et.ID()
	registered, managed := em.pc.keyOf(entity)

	if idAttr.IsUnset(entity) {
		if managed {
			return metamodel.Key{}, false, &IdentifierChangedError{Entity: et.Name(), Expected: registered.ID(), Actual: idAttr.Get(entity)}
		}
		if target != StateManaged {
			return metamodel.Key{}, false, nil
		}
		if !idAttr.IsGenerated() {
			return metamodel.Key{}, false, fmt.Errorf("%w: %s.%s", ErrMissingIdentifier, et.Name(), idAttr.Name())
		}
		if _, err := em.GenerateAndSetLocalID(entity, idAttr); err != nil {
			return metamodel.Key{}, false, err
		}
		generated = true
	}

	key, err = metamodel.NewKey(et, idAttr.Get(entity))
	if err != nil {
		return metamodel.Key{}, generated, err
	}
	if managed && registered != key {
		return metamodel.Key{}, generated, &IdentifierChangedError{Entity: et.Name(), Expected: registered.ID(), Actual: key.ID()}
	}
	return key, generated, nil
}

// resolveState derives the current state of key: MANAGED if the context
// holds it, DETACHED if only the backend does, NEW otherwise.
func (em *EntityManager) resolveState(ctx context.Context, key metamodel.Key) (EntityState, error) {
	if key.IsZero() {
		return StateNew, nil
	}
	if em.pc.get(key) != nil {
		return StateManaged, nil
	}
	stored, err := storage.Contains(ctx, em.backend, key)
	if err != nil {
		return StateNew, fmt.Errorf("resolve state of %s: %w", key, err)
	}
	if stored {
		return StateDetached, nil
	}
	return StateNew, nil
}

// changeEntityState moves entity to target, applying the side effects of the
// (target, current) pair. Rejected pairs return before anything is mutated.
func (em *EntityManager) changeEntityState(ctx context.Context, entity any, target EntityState) error {
	mm, err := em.frozenMetamodel()
	if err != nil {
		return err
	}
	et, err := mm.Entity(entity)
	if err != nil {
		return err
	}
	if isNilPointer(entity) {
		return fmt.Errorf("%w: %s", ErrNilEntity, et.Name())
	}

	key, generated, err := em.resolveKey(et, entity, target)
	if err != nil {
		return err
	}
	from, err := em.resolveState(ctx, key)
	if err != nil {
		return err
	}

	if err := em.applyTransition(ctx, et, key, entity, from, target); err != nil {
		if generated {
			// hand the entity back the way the caller passed it in
			_ = et.ID().Set(entity, reflect.Zero(et.ID().Type()).Interface())
		}
		return err
	}

	em.metrics.recordTransition(from, target)
	em.metrics.setManaged(em.pc.len())
	em.logger.Debug("entity state transition",
		"entity", et.Name(),
		"key", key.String(),
		"from", from.String(),
		"to", target.String())
	return nil
}

func isNilPointer(entity any) bool {
	v := reflect.ValueOf(entity)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (em *EntityManager) applyTransition(ctx context.Context, et *metamodel.EntityType, key metamodel.Key, entity any, from, target EntityState) error {
	switch target {
	case StateManaged:
		switch from {
		case StateNew, StateRemoved:
			return em.insert(ctx, et, key, entity)
		case StateManaged:
			// already managed; nothing to cascade to
			return nil
		case StateDetached:
			return &TransitionError{Entity: et.Name(), From: from, To: target, Err: ErrEntityExists}
		}
	case StateDetached:
		switch from {
		case StateNew, StateDetached:
			return nil
		case StateManaged, StateRemoved:
			em.pc.remove(key)
			return nil
		}
	case StateRemoved:
		switch from {
		case StateNew, StateManaged:
			return em.delete(ctx, et, key, entity)
		case StateRemoved:
			return nil
		}
	}
	return &TransitionError{Entity: et.Name(), From: from, To: target, Err: ErrIllegalTransition}
}

// insert registers entity in the context and writes it to the backend,
// bracketed by the persist callbacks.
func (em *EntityManager) insert(ctx context.Context, et *metamodel.EntityType, key metamodel.Key, entity any) error {
	if err := em.deliver(et, metamodel.PrePersist, entity); err != nil {
		return err
	}
	em.pc.put(key, entity)
	if err := em.backend.Put(ctx, key, entity); err != nil {
		em.pc.remove(key)
		return fmt.Errorf("store %s: %w", key, err)
	}
	return em.deliver(et, metamodel.PostPersist, entity)
}

// delete evicts key from the context and the backend, bracketed by the
// remove callbacks. A zero key (entity never had an id) has nothing to evict.
func (em *EntityManager) delete(ctx context.Context, et *metamodel.EntityType, key metamodel.Key, entity any) error {
	if err := em.deliver(et, metamodel.PreRemove, entity); err != nil {
		return err
	}
	if !key.IsZero() {
		previous := em.pc.get(key)
		em.pc.remove(key)
		if err := em.backend.Remove(ctx, key); err != nil {
			if previous != nil {
				em.pc.put(key, previous)
			}
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return em.deliver(et, metamodel.PostRemove, entity)
}
