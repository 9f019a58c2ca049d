// Package hostpower keeps the host awake while a backup runs and requests a
// host shutdown afterwards.
package hostpower

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

// inhibitFunc asks the host to defer idle, sleep and shutdown. The returned
// function restores the default power behaviour.
type inhibitFunc func(ctx context.Context) (restore func() error, err error)

// Guard is a scoped power-state request. Acquire always succeeds from the
// caller's point of view: if the platform mechanism is unavailable a warning
// is logged and the run proceeds unprotected. Release without a prior
// Acquire, and any repeated Release, is a no-op.
type Guard struct {
	mu       sync.Mutex
	inhibit  inhibitFunc
	restore  func() error
	acquired bool
}

// Acquire engages the guard.
func (g *Guard) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.acquired {
		return nil
	}
	g.acquired = true

	if g.inhibit == nil {
		plog.Warn("Preventing sleep is not supported on this platform")
		return nil
	}
	restore, err := g.inhibit(ctx)
	if err != nil {
		plog.Warn("Could not prevent the host from sleeping, continuing without protection", "error", err)
		return nil
	}
	g.restore = restore
	plog.Debug("Power guard acquired")
	return nil
}

// Release restores the default power behaviour.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.acquired {
		return nil
	}
	g.acquired = false

	restore := g.restore
	g.restore = nil
	if restore == nil {
		return nil
	}
	if err := restore(); err != nil {
		return fmt.Errorf("failed to release power guard: %w", err)
	}
	plog.Debug("Power guard released")
	return nil
}
