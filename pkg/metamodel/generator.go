package metamodel

import (
	"sync"

	"github.com/google/uuid"
)

// ValueGenerator produces identifier values that are unique within the
// local session. They are not guaranteed to be globally unique.
type ValueGenerator interface {
	Next() any
}

type integer interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64
}

// SequenceGenerator hands out monotonically increasing integers.
type SequenceGenerator[V integer] struct {
	mu   sync.Mutex
	next V
}

// NewSequenceGenerator creates a sequence whose first value is start.
func NewSequenceGenerator[V integer](start V) *SequenceGenerator[V] {
	return &SequenceGenerator[V]{next: start}
}

// Next returns the current value and advances the sequence
func (g *SequenceGenerator[V]) Next() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.next
	g.next++
	return v
}

// UUIDGenerator produces random (version 4) UUID strings.
type UUIDGenerator struct{}

// Next returns a new UUID string
func (UUIDGenerator) Next() any {
	return uuid.NewString()
}
