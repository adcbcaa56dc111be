package entitymanager

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity manager operations
var (
	// ErrIllegalTransition is returned for state pairs the lifecycle does not define
	ErrIllegalTransition = errors.New("illegal entity state transition")

	// ErrEntityExists is returned when persisting an entity that is already in the backend
	ErrEntityExists = errors.New("entity already exists")

	// ErrIdentifierChanged is returned by Flush when a managed entity's id was modified
	ErrIdentifierChanged = errors.New("identifier of managed entity changed")

	// ErrNotManaged is returned when an instance is not in the persistence context
	ErrNotManaged = errors.New("not a managed entity")

	// ErrMetamodelNotFrozen is returned when the populator did not freeze the metamodel
	ErrMetamodelNotFrozen = errors.New("metamodel populator did not freeze the metamodel")

	// ErrMissingIdentifier is returned when an entity without id cannot get a generated one
	ErrMissingIdentifier = errors.New("entity has no identifier")

	// ErrNoValueGenerator is returned when generating an id for a non-generated attribute
	ErrNoValueGenerator = errors.New("attribute has no value generator")

	// ErrNilEntity is returned when an operation is given a nil pointer
	ErrNilEntity = errors.New("entity is a nil pointer")
)

// TransitionError reports a rejected state change. It unwraps to
// ErrIllegalTransition or ErrEntityExists.
type TransitionError struct {
	Entity string
	From   EntityState
	To     EntityState
	Err    error
}

// Error implements the error interface
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s can't transition from %s to %s", e.Err, e.Entity, e.From, e.To)
}

// Unwrap returns the underlying sentinel
func (e *TransitionError) Unwrap() error {
	return e.Err
}

// IdentifierChangedError reports a managed entity whose id no longer matches
// the id it was registered under.
type IdentifierChangedError struct {
	Entity   string
	Expected any
	Actual   any
}

// Error implements the error interface
func (e *IdentifierChangedError) Error() string {
	return fmt.Sprintf("detected ID attribute change in managed %s entity. Expected ID: %v; Actual ID: %v", e.Entity, e.Expected, e.Actual)
}

// Unwrap returns ErrIdentifierChanged
func (e *IdentifierChangedError) Unwrap() error {
	return ErrIdentifierChanged
}

// IsIllegalTransition checks if an error is ErrIllegalTransition
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

// IsEntityExists checks if an error is ErrEntityExists
func IsEntityExists(err error) bool {
	return errors.Is(err, ErrEntityExists)
}

// IsIdentifierChanged checks if an error is ErrIdentifierChanged
func IsIdentifierChanged(err error) bool {
	return errors.Is(err, ErrIdentifierChanged)
}

// IsNotManaged checks if an error is ErrNotManaged
func IsNotManaged(err error) bool {
	return errors.Is(err, ErrNotManaged)
}
