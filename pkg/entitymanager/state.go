package entitymanager

// EntityState is an entity's lifecycle state relative to the persistence
// context and the backend. It is never stored on the entity; see resolveState.
type EntityState int

const (
	StateNew EntityState = iota
	StateManaged
	StateDetached
	StateRemoved
)

// String returns the state name
func (s EntityState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateManaged:
		return "MANAGED"
	case StateDetached:
		return "DETACHED"
	case StateRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}
