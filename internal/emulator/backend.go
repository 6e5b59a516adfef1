package emulator

import "context"

// Backend answers "what is the emulator doing right now?".
//
// Implementations must fail soft: an inconclusive answer is a zero Reading
// plus an error, never a panic or a hang beyond the caller's deadline.
type Backend interface {
	Probe(ctx context.Context) (Reading, error)
}
