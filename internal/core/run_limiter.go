package core

// run_limiter.go serialises import runs within one process.
//
// The catalog snapshot and the per-communication revision numbering both
// assume a single writer, so a run must hold the limiter for its whole
// duration. A run that cannot start within maxWait fails with
// ErrImportInProgress instead of queueing indefinitely.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrImportInProgress is returned when another run holds the limiter and the
// wait timeout expires.
var ErrImportInProgress = errors.New("import already in progress, please try again later")

// DefaultMaxWait is how long to wait for the running import before giving up.
const DefaultMaxWait = 10 * time.Second

// RunLimiter allows at most one import run at a time.
type RunLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active bool
	runID  string
	since  time.Time
}

// NewRunLimiter creates a limiter that waits up to maxWait for a slot.
func NewRunLimiter(maxWait time.Duration) *RunLimiter {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &RunLimiter{
		semaphore: make(chan struct{}, 1),
		maxWait:   maxWait,
	}
}

// Acquire claims the run slot for runID.
// Returns nil on success, ErrImportInProgress if the wait times out.
// The caller MUST call Release() when the run completes (use defer).
func (l *RunLimiter) Acquire(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active = true
		l.runID = runID
		l.since = time.Now()
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Check if original context was cancelled vs timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrImportInProgress
	}
}

// Release frees the run slot.
// Must be called exactly once for each successful Acquire.
func (l *RunLimiter) Release() {
	l.mu.Lock()
	l.active = false
	l.runID = ""
	l.since = time.Time{}
	l.mu.Unlock()

	<-l.semaphore
}

// WaitForDrain blocks until the running import completes or ctx is cancelled.
// Used for graceful shutdown.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !l.Status().Active {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunLimiterStatus is a snapshot of the limiter's state.
type RunLimiterStatus struct {
	Active bool      `json:"active"`
	RunID  string    `json:"run_id,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}

// Status returns the current limiter state for monitoring.
func (l *RunLimiter) Status() RunLimiterStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return RunLimiterStatus{Active: l.active, RunID: l.runID, Since: l.since}
}
