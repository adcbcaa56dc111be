package metamodel

import (
	"fmt"
	"reflect"
)

// EntityType describes one entity type: its identifier, persistent
// attributes and lifecycle listeners. Descriptors are mutable only until
// the owning Metamodel is frozen.
type EntityType struct {
	name       string
	goType     reflect.Type // always a pointer to struct
	id         *Attribute
	attributes []*Attribute
	byName     map[string]*Attribute
	listeners  map[Event][]Callback
	newFn      func() any
	frozen     bool
}

// NewEntityType declares the entity type *T under a stable name.
// The name is used in storage keys, so it must not change between releases.
func NewEntityType[T any](name string, id *Attribute, attributes ...*Attribute) *EntityType {
	goType := reflect.TypeOf((*T)(nil))
	if goType.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("metamodel: entity type %v must be a struct", goType.Elem()))
	}
	if name == "" {
		panic(fmt.Sprintf("metamodel: entity type %v needs a name", goType))
	}
	if id == nil {
		panic(fmt.Sprintf("metamodel: entity type %s needs an identifier attribute", name))
	}

	t := &EntityType{
		name:      name,
		goType:    goType,
		id:        id,
		byName:    make(map[string]*Attribute, len(attributes)+1),
		listeners: make(map[Event][]Callback),
		newFn:     func() any { return new(T) },
	}
	t.byName[id.Name()] = id
	for _, attr := range attributes {
		if _, dup := t.byName[attr.Name()]; dup {
			panic(fmt.Sprintf("metamodel: entity type %s declares attribute %q twice", name, attr.Name()))
		}
		t.byName[attr.Name()] = attr
		t.attributes = append(t.attributes, attr)
	}
	return t
}

// On registers a listener for event. Listeners run in registration order,
// after the entity's own callback method.
func (t *EntityType) On(event Event, cb Callback) *EntityType {
	if t.frozen {
		panic(fmt.Sprintf("metamodel: cannot add %s listener to frozen entity type %s", event, t.name))
	}
	t.listeners[event] = append(t.listeners[event], cb)
	return t
}

// Name returns the stable entity name
func (t *EntityType) Name() string {
	return t.name
}

// GoType returns the pointer type instances of this entity have
func (t *EntityType) GoType() reflect.Type {
	return t.goType
}

// ID returns the identifier attribute
func (t *EntityType) ID() *Attribute {
	return t.id
}

// Attributes returns the non-identifier persistent attributes in declaration order.
func (t *EntityType) Attributes() []*Attribute {
	out := make([]*Attribute, len(t.attributes))
	copy(out, t.attributes)
	return out
}

// Attribute looks up an attribute (including the identifier) by name
func (t *EntityType) Attribute(name string) (*Attribute, bool) {
	a, ok := t.byName[name]
	return a, ok
}

// New allocates a zero instance, used by backends when decoding.
func (t *EntityType) New() any {
	return t.newFn()
}

// Owns reports whether entity is an instance of this type.
func (t *EntityType) Owns(entity any) bool {
	return entity != nil && reflect.TypeOf(entity) == t.goType
}

// Deliver invokes the callbacks for event on entity: first the entity's
// own method, then listeners. The first error stops delivery.
func (t *EntityType) Deliver(event Event, entity any) error {
	if fn := declaredCallback(event, entity); fn != nil {
		if err := fn(); err != nil {
			return fmt.Errorf("%s %s callback: %w", t.name, event, err)
		}
	}
	for _, cb := range t.listeners[event] {
		if err := cb(entity); err != nil {
			return fmt.Errorf("%s %s listener: %w", t.name, event, err)
		}
	}
	return nil
}

// HasCallbacks reports whether any callback is declared for event on entity.
func (t *EntityType) HasCallbacks(event Event, entity any) bool {
	return declaredCallback(event, entity) != nil || len(t.listeners[event]) > 0
}

// Per-event shorthands for Deliver; each is a no-op when nothing is declared.
func (t *EntityType) DeliverPrePersist(entity any) error  { return t.Deliver(PrePersist, entity) }
func (t *EntityType) DeliverPostPersist(entity any) error { return t.Deliver(PostPersist, entity) }
func (t *EntityType) DeliverPreUpdate(entity any) error   { return t.Deliver(PreUpdate, entity) }
func (t *EntityType) DeliverPostUpdate(entity any) error  { return t.Deliver(PostUpdate, entity) }
func (t *EntityType) DeliverPreRemove(entity any) error   { return t.Deliver(PreRemove, entity) }
func (t *EntityType) DeliverPostRemove(entity any) error  { return t.Deliver(PostRemove, entity) }
func (t *EntityType) DeliverPostLoad(entity any) error    { return t.Deliver(PostLoad, entity) }

// String implements fmt.Stringer
func (t *EntityType) String() string {
	return t.name
}
