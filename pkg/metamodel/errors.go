package metamodel

import "errors"

// Sentinel errors for metamodel operations
var (
	// ErrMetamodelFrozen is returned when registering entity types after Freeze
	ErrMetamodelFrozen = errors.New("metamodel is frozen")

	// ErrUnknownEntityType is returned when a value's type was never registered
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrDuplicateEntityType is returned when a type or name is registered twice
	ErrDuplicateEntityType = errors.New("duplicate entity type")

	// ErrInvalidIdentifier is returned for nil or non-comparable id values
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrAttributeType is returned when a value does not match the attribute's Go type
	ErrAttributeType = errors.New("attribute type mismatch")
)

// IsUnknownEntityType checks if an error is ErrUnknownEntityType
func IsUnknownEntityType(err error) bool {
	return errors.Is(err, ErrUnknownEntityType)
}

// IsMetamodelFrozen checks if an error is ErrMetamodelFrozen
func IsMetamodelFrozen(err error) bool {
	return errors.Is(err, ErrMetamodelFrozen)
}
