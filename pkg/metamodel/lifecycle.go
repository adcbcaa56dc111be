package metamodel

// Event identifies a lifecycle callback slot.
type Event int

const (
	PrePersist Event = iota
	PostPersist
	PreUpdate
	PostUpdate
	PreRemove
	PostRemove
	PostLoad
)

// String returns the event name as used in logs and metric labels
func (e Event) String() string {
	switch e {
	case PrePersist:
		return "pre_persist"
	case PostPersist:
		return "post_persist"
	case PreUpdate:
		return "pre_update"
	case PostUpdate:
		return "post_update"
	case PreRemove:
		return "pre_remove"
	case PostRemove:
		return "post_remove"
	case PostLoad:
		return "post_load"
	default:
		return "unknown"
	}
}

// Events lists every lifecycle event in declaration order.
func Events() []Event {
	return []Event{PrePersist, PostPersist, PreUpdate, PostUpdate, PreRemove, PostRemove, PostLoad}
}

// Callback is a listener registered on an entity type for one event.
type Callback func(entity any) error

// Entities may declare their own callbacks by implementing any of the
// interfaces below. Entity-declared callbacks run before listeners.
type (
	PrePersister  interface{ PrePersist() error }
	PostPersister interface{ PostPersist() error }
	PreUpdater    interface{ PreUpdate() error }
	PostUpdater   interface{ PostUpdate() error }
	PreRemover    interface{ PreRemove() error }
	PostRemover   interface{ PostRemove() error }
	PostLoader    interface{ PostLoad() error }
)

// declaredCallback returns the entity's own method for event, if any.
func declaredCallback(event Event, entity any) func() error {
	switch event {
	case PrePersist:
		if c, ok := entity.(PrePersister); ok {
			return c.PrePersist
		}
	case PostPersist:
		if c, ok := entity.(PostPersister); ok {
			return c.PostPersist
		}
	case PreUpdate:
		if c, ok := entity.(PreUpdater); ok {
			return c.PreUpdate
		}
	case PostUpdate:
		if c, ok := entity.(PostUpdater); ok {
			return c.PostUpdate
		}
	case PreRemove:
		if c, ok := entity.(PreRemover); ok {
			return c.PreRemove
		}
	case PostRemove:
		if c, ok := entity.(PostRemover); ok {
			return c.PostRemove
		}
	case PostLoad:
		if c, ok := entity.(PostLoader); ok {
			return c.PostLoad
		}
	}
	return nil
}
