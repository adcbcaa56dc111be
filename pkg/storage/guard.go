package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// InitGuard runs a backend's one-time setup exactly once. A failed setup is
// permanent: later calls return the same error and no retry is attempted.
// Ready may be called concurrently with Do.
type InitGuard struct {
	once sync.Once
	done atomic.Bool
	err  error
}

// Do runs fn on the first call and returns its memoized result afterwards.
func (g *InitGuard) Do(fn func() error) error {
	g.once.Do(func() {
		g.err = fn()
		g.done.Store(true)
	})
	return g.err
}

// Ready returns nil once setup has succeeded.
func (g *InitGuard) Ready() error {
	if !g.done.Load() {
		return ErrNotInitialized
	}
	if g.err != nil {
		return fmt.Errorf("%w: %w", ErrNotInitialized, g.err)
	}
	return nil
}
