package emulator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/internal/logger"
)

// Listener receives every new canonical snapshot after a write completes.
type Listener interface {
	StateChanged(Snapshot)
}

// SystemSampler samples host statistics during reconciliation. Nil disables
// system stats entirely.
type SystemSampler func(ctx context.Context) *SystemStats

// Supervisor owns the canonical emulator snapshot.
//
// It is the only writer. Reconciliation — the single point where external
// truth enters the system — runs on a background tick, synchronously on
// every mode switch and dev-state write, and on demand. Concurrent triggers
// coalesce into one backend probe; later arrivals share the in-flight
// result.
type Supervisor struct {
	real Backend
	sim  *Simulated

	probeTimeout time.Duration
	interval     time.Duration
	sampler      SystemSampler

	flight singleflight.Group

	mu        sync.RWMutex
	mode      Mode
	snap      Snapshot
	startTime time.Time
	listener  Listener
}

// NewSupervisor creates a supervisor in REAL mode with an idle snapshot.
func NewSupervisor(real Backend, sim *Simulated, probeTimeout, interval time.Duration) *Supervisor {
	return &Supervisor{
		real:         real,
		sim:          sim,
		probeTimeout: probeTimeout,
		interval:     interval,
		mode:         ModeReal,
		snap: Snapshot{
			Running:     false,
			CurrentDemo: nil,
			Mode:        ModeReal,
			Phase:       PhaseIdle,
			LastUpdated: time.Now(),
		},
	}
}

// SetListener registers the snapshot change listener. Must be called before
// Run; snapshots written earlier are not replayed.
func (s *Supervisor) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// SetSystemSampler registers the host statistics sampler.
func (s *Supervisor) SetSystemSampler(sampler SystemSampler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampler = sampler
}

// Status returns the current canonical snapshot. In-memory read only; never
// blocks on I/O.
func (s *Supervisor) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Mode returns the current operating mode.
func (s *Supervisor) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches the active backend and synchronously reconciles against
// the new backend, so the returned snapshot never carries state left over
// from the previous one. Idempotent when the mode is unchanged (still
// re-syncs).
func (s *Supervisor) SetMode(ctx context.Context, mode Mode) (Snapshot, error) {
	switch mode {
	case ModeReal, ModeSimulated:
	default:
		return s.Status(), agenterr.Newf(agenterr.CodeInvalidInput,
			"invalid monitor mode: %q (must be REAL or SIMULATED)", string(mode))
	}

	s.mu.Lock()
	changed := s.mode != mode
	s.mode = mode
	s.mu.Unlock()

	if changed && mode == ModeSimulated {
		// Entering SIMULATED always starts from a clean slate.
		s.sim.Reset()
	}
	if changed {
		logger.Infof("supervisor: mode switched to %s", mode)
	}

	return s.Reconcile(ctx), nil
}

// SetDevState forwards the desired state to the simulated backend and
// reconciles. Only valid in SIMULATED mode: the real backend is
// observational, a real emulator's state cannot be forced by fiat.
func (s *Supervisor) SetDevState(ctx context.Context, running bool, demo *string) (Snapshot, error) {
	if s.Mode() != ModeSimulated {
		return s.Status(), agenterr.New(agenterr.CodeInvalidOperation,
			"must be in SIMULATED mode to set state directly")
	}
	s.sim.Apply(running, demo)
	return s.Reconcile(ctx), nil
}

// Reconcile queries the active backend and atomically replaces the
// canonical snapshot. Backend failures are absorbed as "not running"; this
// method never returns an error.
//
// Concurrent triggers for the same mode coalesce: later arrivals share the
// probe already in flight rather than issuing a redundant one. A reconcile
// triggered by a mode switch never joins a probe of the old backend — the
// flight key carries the mode, and a fold whose probed mode is no longer
// current is discarded.
func (s *Supervisor) Reconcile(ctx context.Context) Snapshot {
	s.mu.RLock()
	mode := s.mode
	s.mu.RUnlock()

	v, _, _ := s.flight.Do("reconcile:"+string(mode), func() (any, error) {
		return s.reconcileOnce(ctx, mode), nil
	})
	return v.(Snapshot)
}

func (s *Supervisor) reconcileOnce(ctx context.Context, mode Mode) Snapshot {
	s.mu.RLock()
	sampler := s.sampler
	s.mu.RUnlock()

	var backend Backend
	if mode == ModeSimulated {
		backend = s.sim
	} else {
		backend = s.real
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	reading, err := backend.Probe(probeCtx)
	cancel()
	if err != nil {
		// Fail soft: an unreachable probe is evidence of "not running",
		// never a fatal agent error.
		logger.Warnf("supervisor: probe unavailable (%s), folding as not running: %v",
			agenterr.CodeOf(err), err)
		reading = Reading{}
	}

	var system *SystemStats
	if sampler != nil {
		system = sampler(ctx)
	}

	snap, listener := s.fold(mode, reading, system)
	if listener != nil {
		listener.StateChanged(snap)
	}
	return snap
}

// fold merges a backend reading into the canonical snapshot under
// exclusion and returns the replacement snapshot. A reading probed under a
// mode that is no longer current is discarded; the mode switch's own
// reconcile supplies the fresh snapshot.
func (s *Supervisor) fold(probed Mode, reading Reading, system *SystemStats) (Snapshot, Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != probed {
		return s.snap, nil
	}

	now := time.Now()
	next := s.snap
	next.Mode = s.mode

	next.Running = reading.Running
	next.CurrentDemo = reading.Demo
	if !next.Running {
		// A stopped emulator cannot have an active demo.
		next.CurrentDemo = nil
	}

	switch {
	case next.Running && (next.Phase == PhaseIdle || next.Phase == PhaseError):
		next.Phase = PhaseRunning
	case !next.Running && next.Phase == PhaseRunning:
		next.Phase = PhaseIdle
	}

	if next.Running {
		if s.startTime.IsZero() {
			s.startTime = now
		}
		next.UptimeSeconds = int64(now.Sub(s.startTime).Seconds())
	} else {
		s.startTime = time.Time{}
		next.UptimeSeconds = 0
		next.Process = nil
	}

	if system != nil {
		next.System = system
	}

	// Monotonic even if the wall clock stepped backwards.
	if now.Before(next.LastUpdated) {
		now = next.LastUpdated
	}
	next.LastUpdated = now

	s.snap = next
	return next, s.listener
}

// SetPhase records a lifecycle phase transition driven by the launch/stop
// flow and notifies the listener. demo, when non-nil, replaces the current
// demo title.
func (s *Supervisor) SetPhase(phase Phase, demo *string) Snapshot {
	s.mu.Lock()

	next := s.snap
	old := next.Phase
	next.Phase = phase

	switch phase {
	case PhaseRunning, PhaseLaunching:
		next.Running = true
		if demo != nil {
			next.CurrentDemo = demo
		}
		if s.startTime.IsZero() {
			s.startTime = time.Now()
		}
	case PhaseIdle:
		next.Running = false
		next.CurrentDemo = nil
		next.UptimeSeconds = 0
		next.Process = nil
		s.startTime = time.Time{}
	}

	now := time.Now()
	if now.Before(next.LastUpdated) {
		now = next.LastUpdated
	}
	next.LastUpdated = now

	s.snap = next
	listener := s.listener
	s.mu.Unlock()

	logger.Infof("supervisor: phase transition %s -> %s", old, phase)
	if listener != nil {
		listener.StateChanged(next)
	}
	return next
}

// UpdateProcessStats folds fresh process-monitor statistics into the
// snapshot.
func (s *Supervisor) UpdateProcessStats(stats ProcessStats) {
	s.mu.Lock()
	next := s.snap
	statsCopy := stats
	next.Process = &statsCopy
	now := time.Now()
	if now.Before(next.LastUpdated) {
		now = next.LastUpdated
	}
	next.LastUpdated = now
	s.snap = next
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.StateChanged(next)
	}
}

// Run drives the background reconciliation loop until ctx is cancelled.
// An in-flight reconciliation is allowed to finish; only the tick stops.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Infof("supervisor: reconciliation loop started (interval=%v)", s.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("supervisor: reconciliation loop stopped")
			return
		case <-ticker.C:
			// Detached from ctx so a cancel during the tick never
			// abandons a write mid-flight.
			s.Reconcile(context.WithoutCancel(ctx))
		}
	}
}
