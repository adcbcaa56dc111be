// Package metamodel describes entity types to the entity manager: identifier
// and attribute accessors, identifier generators, lifecycle callbacks and the
// composite Key under which an entity is cached and stored.
//
// A Metamodel is an explicit registry. It is populated once, typically by a
// populator function handed to the entity manager, and then frozen; after
// Freeze every mutation is rejected with ErrMetamodelFrozen.
package metamodel

import (
	"fmt"
	"reflect"
	"sort"
)

// Metamodel is the registry of entity types
type Metamodel struct {
	byType map[reflect.Type]*EntityType
	byName map[string]*EntityType
	frozen bool
}

// New creates an empty, unfrozen metamodel
func New() *Metamodel {
	return &Metamodel{
		byType: make(map[reflect.Type]*EntityType),
		byName: make(map[string]*EntityType),
	}
}

// Register adds entity types. It fails once the metamodel is frozen or when
// a Go type or name is registered twice.
func (m *Metamodel) Register(types ...*EntityType) error {
	if m.frozen {
		return ErrMetamodelFrozen
	}
	for _, t := range types {
		if _, exists := m.byType[t.goType]; exists {
			return fmt.Errorf("%w: %v", ErrDuplicateEntityType, t.goType)
		}
		if _, exists := m.byName[t.name]; exists {
			return fmt.Errorf("%w: name %q", ErrDuplicateEntityType, t.name)
		}
		m.byType[t.goType] = t
		m.byName[t.name] = t
	}
	return nil
}

// Freeze makes the metamodel and all registered entity types immutable.
func (m *Metamodel) Freeze() {
	m.frozen = true
	for _, t := range m.byType {
		t.frozen = true
	}
}

// IsFrozen reports whether Freeze has been called
func (m *Metamodel) IsFrozen() bool {
	return m.frozen
}

// Entity returns the descriptor for the dynamic type of entity, which must be
// a pointer to a registered struct type. A typed nil pointer is accepted.
func (m *Metamodel) Entity(entity any) (*EntityType, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrUnknownEntityType)
	}
	return m.EntityOf(reflect.TypeOf(entity))
}

// EntityOf returns the descriptor registered for goType (a pointer type).
func (m *Metamodel) EntityOf(goType reflect.Type) (*EntityType, error) {
	t, ok := m.byType[goType]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEntityType, goType)
	}
	return t, nil
}

// EntityByName returns the descriptor registered under name
func (m *Metamodel) EntityByName(name string) (*EntityType, error) {
	t, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, name)
	}
	return t, nil
}

// Entities returns all registered entity types ordered by name
func (m *Metamodel) Entities() []*EntityType {
	out := make([]*EntityType, 0, len(m.byName))
	for _, t := range m.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// TypeOf returns the pointer type under which *T is registered.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil))
}
