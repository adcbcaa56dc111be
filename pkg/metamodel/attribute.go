package metamodel

import (
	"fmt"
	"reflect"
)

// Attribute describes a single persistent attribute of an entity type.
// Accessors are plain functions so no struct-tag reflection is needed to
// read or write entity state.
type Attribute struct {
	name      string
	goType    reflect.Type
	get       func(entity any) any
	set       func(entity any, value any) error
	generator ValueGenerator
}

// ID builds an identifier attribute from typed accessors on *X.
// Identifier values must be comparable so they can take part in a Key.
func ID[X any, V comparable](name string, get func(*X) V, set func(*X, V)) *Attribute {
	return newAttribute(name, get, set)
}

// Field builds a persistent (non-identifier) attribute from typed accessors on *X.
func Field[X any, V any](name string, get func(*X) V, set func(*X, V)) *Attribute {
	return newAttribute(name, get, set)
}

func newAttribute[X any, V any](name string, get func(*X) V, set func(*X, V)) *Attribute {
	if name == "" {
		panic("metamodel: attribute name cannot be empty")
	}
	if get == nil || set == nil {
		panic(fmt.Sprintf("metamodel: attribute %q requires both getter and setter", name))
	}
	return &Attribute{
		name:   name,
		goType: reflect.TypeOf((*V)(nil)).Elem(),
		get: func(entity any) any {
			return get(entity.(*X))
		},
		set: func(entity any, value any) error {
			v, ok := value.(V)
			if !ok {
				return fmt.Errorf("%w: attribute %s expects %v, got %T", ErrAttributeType, name, reflect.TypeOf((*V)(nil)).Elem(), value)
			}
			set(entity.(*X), v)
			return nil
		},
	}
}

// Generated attaches a value generator, marking the attribute as generated.
// It returns the attribute for chaining at declaration time.
func (a *Attribute) Generated(g ValueGenerator) *Attribute {
	a.generator = g
	return a
}

// Name returns the attribute name
func (a *Attribute) Name() string {
	return a.name
}

// Type returns the attribute's Go value type
func (a *Attribute) Type() reflect.Type {
	return a.goType
}

// Get reads the attribute from entity, which must be a pointer of the declaring type.
func (a *Attribute) Get(entity any) any {
	return a.get(entity)
}

// Set writes value onto entity.
func (a *Attribute) Set(entity any, value any) error {
	return a.set(entity, value)
}

// Generator returns the value generator, or nil for non-generated attributes.
func (a *Attribute) Generator() ValueGenerator {
	return a.generator
}

// IsGenerated reports whether the attribute has a value generator.
func (a *Attribute) IsGenerated() bool {
	return a.generator != nil
}

// IsUnset reports whether the attribute currently holds its type's zero value,
// which is how an absent identifier is represented.
func (a *Attribute) IsUnset(entity any) bool {
	v := a.get(entity)
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

// Coerce converts value to the attribute's Go type when the conversion is
// lossless in kind (int to int64, named string types and so on). Values that
// already have the attribute's type are returned unchanged.
func (a *Attribute) Coerce(value any) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil value for %s", ErrAttributeType, a.name)
	}
	rv := reflect.ValueOf(value)
	if rv.Type() == a.goType {
		return value, nil
	}
	if sameKindFamily(rv.Kind(), a.goType.Kind()) && rv.Type().ConvertibleTo(a.goType) {
		converted := rv.Convert(a.goType)
		if !reflect.DeepEqual(converted.Convert(rv.Type()).Interface(), value) || signFlipped(rv, converted) {
			return nil, fmt.Errorf("%w: %v does not fit %v", ErrAttributeType, value, a.goType)
		}
		return converted.Interface(), nil
	}
	return nil, fmt.Errorf("%w: attribute %s expects %v, got %T", ErrAttributeType, a.name, a.goType, value)
}

// signFlipped catches signed/unsigned conversions that round-trip but change sign.
func signFlipped(from, to reflect.Value) bool {
	return isSigned(from.Kind()) != isSigned(to.Kind()) && kindFamily(from.Kind()) == 1 &&
		((isSigned(from.Kind()) && from.Int() < 0) || (isSigned(to.Kind()) && to.Int() < 0))
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func sameKindFamily(a, b reflect.Kind) bool {
	return kindFamily(a) != 0 && kindFamily(a) == kindFamily(b)
}

func kindFamily(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return 1
	case reflect.String:
		return 2
	case reflect.Float32, reflect.Float64:
		return 3
	default:
		return 0
	}
}
