// Package process manages the emulator child process lifecycle: start,
// graceful/forced stop, liveness monitoring and stat sampling.
package process

import (
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/internal/logger"
)

const (
	gracefulStopTimeout = 5 * time.Second
	monitorInterval     = time.Second
)

// Stats is a sample of the running emulator process.
type Stats struct {
	PID           int32
	CPUPercent    float64
	MemoryPercent float32
}

// ExitEvent reports an unexpected process termination observed by the
// monitor. Expected stops (via Stop) do not produce one.
type ExitEvent struct {
	PID      int32
	ExitCode int
}

// Manager owns at most one emulator child process at a time.
type Manager struct {
	statusPath string
	onStats    func(Stats)
	onExit     func(ExitEvent)

	mu          sync.Mutex
	cmd         *exec.Cmd
	proc        *process.Process
	demo        string
	stopping    bool
	monitorStop chan struct{}
	waitDone    chan struct{}
}

// NewManager creates a process manager. onStats and onExit may be nil.
func NewManager(statusPath string, onStats func(Stats), onExit func(ExitEvent)) *Manager {
	return &Manager{
		statusPath: statusPath,
		onStats:    onStats,
		onExit:     onExit,
	}
}

// Start launches the emulator with the given argv. demo is recorded in the
// status file for the probe. Refuses to start while a process is running.
func (m *Manager) Start(command []string, demo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(command) == 0 {
		return agenterr.New(agenterr.CodeInvalidConfig, "empty launch command")
	}
	if m.proc != nil && m.isRunningLocked() {
		return agenterr.New(agenterr.CodeProcessExists,
			"cannot start new process while current process is running")
	}

	logger.Infof("process: starting %v", command)
	cmd := exec.Command(command[0], command[1:]...)
	// Own process group so stop signals reach emulator children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return agenterr.Wrap(agenterr.CodeProcessStart,
			"failed to start emulator process", err)
	}

	proc, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		_ = cmd.Process.Kill()
		return agenterr.Wrap(agenterr.CodeProcessStart,
			"failed to attach to started process", err)
	}

	m.cmd = cmd
	m.proc = proc
	m.demo = demo
	m.stopping = false
	m.monitorStop = make(chan struct{})
	m.waitDone = make(chan struct{})

	m.writeStatusFile(proc.Pid, demo)

	waitDone := m.waitDone
	go func() {
		// Reap the child so it never lingers as a zombie.
		_ = cmd.Wait()
		close(waitDone)
	}()
	go m.monitor(proc, m.monitorStop, waitDone)

	logger.Infof("process: started pid=%d demo=%q", proc.Pid, demo)
	return nil
}

// Stop terminates the emulator process. Without force it signals SIGTERM to
// the process group and escalates to SIGKILL after a timeout.
func (m *Manager) Stop(force bool) error {
	m.mu.Lock()
	if m.proc == nil {
		m.mu.Unlock()
		logger.Warnf("process: no process to stop")
		return nil
	}
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	pid := m.proc.Pid
	waitDone := m.waitDone
	m.stopping = true
	close(m.monitorStop)
	m.mu.Unlock()

	err := m.signalStop(pid, force, waitDone)

	m.mu.Lock()
	m.cleanupLocked()
	m.mu.Unlock()

	if err != nil {
		return agenterr.Wrap(agenterr.CodeProcessStop,
			"failed to stop emulator process", err)
	}
	logger.Infof("process: stopped pid=%d", pid)
	return nil
}

func (m *Manager) signalStop(pid int32, force bool, waitDone chan struct{}) error {
	pgid := -int(pid)
	if force {
		if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return err
		}
		return nil
	}

	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}

	select {
	case <-waitDone:
		return nil
	case <-time.After(gracefulStopTimeout):
		logger.Warnf("process: pid=%d did not exit within %v, killing", pid, gracefulStopTimeout)
		if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return err
		}
		return nil
	}
}

// IsRunning reports whether the tracked process is currently alive.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunningLocked()
}

func (m *Manager) isRunningLocked() bool {
	if m.proc == nil {
		return false
	}
	running, err := m.proc.IsRunning()
	return err == nil && running
}

// Tracked implements emulator.Tracker.
func (m *Manager) Tracked() (int32, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proc == nil {
		return 0, "", false
	}
	return m.proc.Pid, m.demo, true
}

// monitor samples process stats every second and reports unexpected
// termination.
func (m *Manager) monitor(proc *process.Process, stop <-chan struct{}, waitDone <-chan struct{}) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-waitDone:
			m.handleTermination(proc)
			return
		case <-ticker.C:
			running, err := proc.IsRunning()
			if err != nil || !running {
				m.handleTermination(proc)
				return
			}
			if m.onStats != nil {
				stats := Stats{PID: proc.Pid}
				if cpu, err := proc.CPUPercent(); err == nil {
					stats.CPUPercent = cpu
				}
				if memPct, err := proc.MemoryPercent(); err == nil {
					stats.MemoryPercent = memPct
				}
				m.onStats(stats)
			}
		}
	}
}

func (m *Manager) handleTermination(proc *process.Process) {
	m.mu.Lock()
	if m.stopping || m.proc != proc {
		m.mu.Unlock()
		return
	}
	exitCode := -1
	if m.cmd != nil && m.cmd.ProcessState != nil {
		exitCode = m.cmd.ProcessState.ExitCode()
	}
	m.cleanupLocked()
	onExit := m.onExit
	m.mu.Unlock()

	logger.Errorf("process: emulator pid=%d terminated unexpectedly (exit=%d)", proc.Pid, exitCode)
	if onExit != nil {
		onExit(ExitEvent{PID: proc.Pid, ExitCode: exitCode})
	}
}

func (m *Manager) cleanupLocked() {
	m.removeStatusFile()
	m.cmd = nil
	m.proc = nil
	m.demo = ""
}

func (m *Manager) writeStatusFile(pid int32, demo string) {
	if m.statusPath == "" {
		return
	}
	data, err := json.Marshal(map[string]any{
		"pid":       pid,
		"demo":      demo,
		"startedAt": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := os.WriteFile(m.statusPath, data, 0o644); err != nil {
		logger.Warnf("process: failed to write status file %s: %v", m.statusPath, err)
	}
}

func (m *Manager) removeStatusFile() {
	if m.statusPath == "" {
		return
	}
	if err := os.Remove(m.statusPath); err != nil && !os.IsNotExist(err) {
		logger.Warnf("process: failed to remove status file %s: %v", m.statusPath, err)
	}
}
