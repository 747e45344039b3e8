package core

// run_guard.go keeps sync runs from overlapping.
//
// The guard is a semaphore with a single slot. A run holds the slot from
// start to finish; a second caller either fails at once with
// ErrRunInProgress or, when the guard was built with a wait time, waits up
// to that long for the slot.
//
// WaitForDrain blocks until the active run completes, which lets shutdown
// finish the current table batch before the process exits.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRunInProgress is returned when a run is requested while another run of
// the same processor is still active.
var ErrRunInProgress = errors.New("sync run already in progress")

// RunGuard allows at most one active run.
type RunGuard struct {
	slot    chan struct{}
	maxWait time.Duration

	mu      sync.RWMutex
	active  bool
	started time.Time
}

// NewRunGuard creates a guard. Callers that find the slot taken wait up to
// maxWait for it; zero or less means they fail immediately.
func NewRunGuard(maxWait time.Duration) *RunGuard {
	return &RunGuard{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire takes the slot. Returns ErrRunInProgress if it is still taken
// after the guard's wait time, or the context error if ctx ends first.
// The caller MUST call Release() when the run completes (use defer).
func (g *RunGuard) Acquire(ctx context.Context) error {
	if g.maxWait <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !g.TryAcquire() {
			return ErrRunInProgress
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	select {
	case g.slot <- struct{}{}:
		g.markActive()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRunInProgress
	}
}

// TryAcquire takes the slot without blocking.
// Returns true if the slot was acquired.
func (g *RunGuard) TryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		g.markActive()
		return true
	default:
		return false
	}
}

func (g *RunGuard) markActive() {
	g.mu.Lock()
	g.active = true
	g.started = time.Now()
	g.mu.Unlock()
}

// Release frees the slot.
// Must be called exactly once for each successful Acquire/TryAcquire.
func (g *RunGuard) Release() {
	g.mu.Lock()
	g.active = false
	g.started = time.Time{}
	g.mu.Unlock()

	<-g.slot
}

// Active reports whether a run holds the slot.
func (g *RunGuard) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// WaitForDrain blocks until no run is active or ctx is cancelled.
func (g *RunGuard) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !g.Active() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunGuardStatus is a snapshot of the guard's state.
type RunGuardStatus struct {
	Active  bool      `json:"active"`
	Started time.Time `json:"started,omitzero"`
}

// Status returns the current guard state for monitoring.
func (g *RunGuard) Status() RunGuardStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return RunGuardStatus{Active: g.active, Started: g.started}
}
