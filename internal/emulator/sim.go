package emulator

import (
	"context"
	"sync"
)

// Simulated is the in-memory stand-in backend used for development without
// a real emulator present. It reports back whatever was last applied.
type Simulated struct {
	mu      sync.Mutex
	reading Reading
}

// NewSimulated creates a simulated backend in the "not running" state.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Probe returns the last applied dev state.
func (s *Simulated) Probe(_ context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading, nil
}

// Apply stores the given values verbatim. The running=false => demo=none
// invariant is enforced by the supervisor on fold, not here.
func (s *Simulated) Apply(running bool, demo *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = Reading{Running: running, Demo: demo}
}

// Reset clears the simulated state. Called when the supervisor enters
// SIMULATED mode so stale dev state never leaks across mode switches.
func (s *Simulated) Reset() {
	s.Apply(false, nil)
}
