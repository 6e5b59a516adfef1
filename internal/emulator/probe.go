package emulator

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/internal/logger"
)

// Tracker exposes the process the agent itself launched, if any.
type Tracker interface {
	// Tracked returns the child pid and demo title, or ok=false when the
	// agent is not currently tracking a process.
	Tracked() (pid int32, demo string, ok bool)
}

// StatusFile is the side-channel file written by the launch path so the
// probe can recover pid and demo even across agent restarts.
type StatusFile struct {
	PID       int32     `json:"pid"`
	Demo      string    `json:"demo"`
	StartedAt time.Time `json:"startedAt"`
}

// ProcessProbe determines whether the real emulator process is alive and
// what it is running. Detection order: the agent-tracked child, then the
// status file, then a process-table scan by executable name.
//
// The probe is observational only and fails soft: any inconclusive result
// is reported as an error the supervisor folds into "not running".
type ProcessProbe struct {
	processName string
	statusPath  string
	tracker     Tracker

	// pidAlive is swappable for tests.
	pidAlive func(ctx context.Context, pid int32) bool
}

// NewProcessProbe creates a probe. tracker may be nil when the agent never
// launches the emulator itself.
func NewProcessProbe(processName, statusPath string, tracker Tracker) *ProcessProbe {
	return &ProcessProbe{
		processName: processName,
		statusPath:  statusPath,
		tracker:     tracker,
		pidAlive:    defaultPidAlive,
	}
}

func defaultPidAlive(ctx context.Context, pid int32) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExistsWithContext(ctx, pid)
	return err == nil && alive
}

// Probe implements Backend.
func (p *ProcessProbe) Probe(ctx context.Context) (Reading, error) {
	if p.tracker != nil {
		if pid, demo, ok := p.tracker.Tracked(); ok && p.pidAlive(ctx, pid) {
			reading := Reading{Running: true}
			if demo != "" {
				reading.Demo = &demo
			}
			return reading, nil
		}
	}

	if reading, ok := p.probeStatusFile(ctx); ok {
		return reading, nil
	}

	return p.scanProcessTable(ctx)
}

// probeStatusFile reports the status-file reading and whether it was
// conclusive. A missing or stale file is not an error.
func (p *ProcessProbe) probeStatusFile(ctx context.Context) (Reading, bool) {
	if p.statusPath == "" {
		return Reading{}, false
	}
	data, err := os.ReadFile(p.statusPath)
	if err != nil {
		return Reading{}, false
	}
	var sf StatusFile
	if err := json.Unmarshal(data, &sf); err != nil {
		logger.Warnf("probe: malformed status file %s: %v", p.statusPath, err)
		return Reading{}, false
	}
	if !p.pidAlive(ctx, sf.PID) {
		// Stale file from a dead launch; leave removal to the launch path.
		return Reading{}, false
	}
	reading := Reading{Running: true}
	if sf.Demo != "" {
		demo := sf.Demo
		reading.Demo = &demo
	}
	return reading, true
}

// scanProcessTable looks for the configured emulator executable by name.
// A name match without a status file cannot identify the demo.
func (p *ProcessProbe) scanProcessTable(ctx context.Context) (Reading, error) {
	if p.processName == "" {
		return Reading{}, nil
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return Reading{}, agenterr.Wrap(agenterr.CodeProbeUnavailable,
			"process table scan failed", err)
	}
	for _, proc := range procs {
		if ctx.Err() != nil {
			return Reading{}, agenterr.Wrap(agenterr.CodeProbeUnavailable,
				"process table scan timed out", ctx.Err())
		}
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.EqualFold(name, p.processName) {
			return Reading{Running: true}, nil
		}
	}
	return Reading{}, nil
}
