// Package emulator owns the canonical emulator state and its supervisor.
//
// The supervisor is the single writer of the state snapshot. It reconciles
// the snapshot against one of two backends: a probe over the real emulator
// process, or an in-memory simulated stand-in for development. HTTP and
// WebSocket layers only ever observe fully-formed snapshots.
package emulator

import (
	"time"

	"github.com/demovault/retro-agent/internal/agenterr"
)

// Mode selects which backend the supervisor consults.
type Mode string

const (
	ModeReal      Mode = "REAL"
	ModeSimulated Mode = "SIMULATED"
)

// ParseMode parses a mode string from a caller.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReal, ModeSimulated:
		return Mode(s), nil
	default:
		return "", agenterr.Newf(agenterr.CodeInvalidInput,
			"invalid monitor mode: %q (must be REAL or SIMULATED)", s)
	}
}

// Phase is the emulator lifecycle phase driven by the launch/stop flow.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseLaunching Phase = "LAUNCHING"
	PhaseRunning   Phase = "RUNNING"
	PhaseStopping  Phase = "STOPPING"
	PhaseError     Phase = "ERROR"
)

// Reading is a backend's view of the emulator at one instant. Backends
// return readings; they never touch the canonical snapshot.
type Reading struct {
	Running bool
	Demo    *string
}

// SystemStats are host-level statistics sampled during reconciliation.
type SystemStats struct {
	CPUUsage    float64  `json:"cpuUsage"`
	MemoryUsage float64  `json:"memoryUsage"`
	Temperature *float64 `json:"temperature"`
}

// ProcessStats are per-process statistics reported by the process monitor.
type ProcessStats struct {
	PID           int32   `json:"pid"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float32 `json:"memoryPercent"`
}

// Snapshot is the canonical emulator state. It is replaced atomically by
// the supervisor; readers always observe a complete snapshot.
type Snapshot struct {
	Running     bool      `json:"running"`
	CurrentDemo *string   `json:"currentDemo"`
	Mode        Mode      `json:"mode"`
	LastUpdated time.Time `json:"lastUpdated"`

	Phase         Phase         `json:"state"`
	UptimeSeconds int64         `json:"uptime"`
	System        *SystemStats  `json:"systemStats,omitempty"`
	Process       *ProcessStats `json:"process,omitempty"`
}
