package mongodb

import (
	"context"
	"sync"
)

// Outcome is the state of a Readiness future.
type Outcome int

const (
	// OutcomeRetrying means the connection cycle is still in progress.
	OutcomeRetrying Outcome = iota
	// OutcomeReady means the store accepts operations.
	OutcomeReady
	// OutcomeFatal means the cycle ended without readiness.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeFatal:
		return "fatal"
	default:
		return "retrying"
	}
}

// Readiness resolves exactly once, to Ready or Fatal.
type Readiness struct {
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	outcome Outcome
	err     error
}

func newReadiness() *Readiness {
	return &Readiness{done: make(chan struct{}), outcome: OutcomeRetrying}
}

// resolve records the terminal outcome. Later calls are ignored and return false.
func (r *Readiness) resolve(outcome Outcome, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.mu.Lock()
		r.outcome = outcome
		r.err = err
		r.mu.Unlock()
		close(r.done)
		resolved = true
	})
	return resolved
}

// Wait blocks until the future resolves or ctx is done.
// It returns nil when ready and the terminal error otherwise.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		_, err := r.Outcome()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome polls the current state without blocking.
func (r *Readiness) Outcome() (Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome, r.err
}

// Done is closed once the future resolves.
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}
