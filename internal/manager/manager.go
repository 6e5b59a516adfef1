// Package manager coordinates the launch/stop flow across the supervisor,
// disk image cache, process lifecycle and playback timeline.
package manager

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/internal/emulator"
	"github.com/demovault/retro-agent/internal/launch"
	"github.com/demovault/retro-agent/internal/logger"
	"github.com/demovault/retro-agent/internal/playback"
)

// ProcessRunner is the emulator child-process lifecycle surface the
// coordinator drives.
type ProcessRunner interface {
	Start(command []string, demo string) error
	Stop(force bool) error
	IsRunning() bool
}

// ImagePreparer fetches a launch's disk images and returns local paths in
// disk order.
type ImagePreparer interface {
	PrepareImages(ctx context.Context, images []launch.Image) ([]string, error)
}

// TimelineRunner replays a plan's timeline against the live emulator.
type TimelineRunner interface {
	Run(ctx context.Context, plan launch.Plan, imagePaths []string, watcher playback.Watcher, stop playback.StopFunc)
}

// Notifier pushes errors and launch correlation to connected clients.
type Notifier interface {
	NotifyError(code, message string, details map[string]any)
	SetLaunchID(id string)
}

// Result is the success envelope returned by program operations.
type Result struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	LaunchID string `json:"launchId,omitempty"`
}

// Manager is the coordinator for program launch, curation and stop.
type Manager struct {
	sup      *emulator.Supervisor
	proc     ProcessRunner
	launcher *launch.Manager
	images   ImagePreparer
	timeline TimelineRunner
	notifier Notifier
}

// New wires a coordinator. timeline and notifier may be nil in reduced
// deployments.
func New(sup *emulator.Supervisor, proc ProcessRunner, launcher *launch.Manager, images ImagePreparer, timeline TimelineRunner, notifier Notifier) *Manager {
	return &Manager{
		sup:      sup,
		proc:     proc,
		launcher: launcher,
		images:   images,
		timeline: timeline,
		notifier: notifier,
	}
}

// Launch starts a program and replays its playback timeline.
func (m *Manager) Launch(ctx context.Context, req launch.Request) (Result, error) {
	return m.launchProgram(ctx, req, true, "Program launched successfully")
}

// Curate starts a program without timeline playback, for interactive
// curation sessions.
func (m *Manager) Curate(ctx context.Context, req launch.Request) (Result, error) {
	return m.launchProgram(ctx, req, false, "Program launched for curation successfully")
}

func (m *Manager) launchProgram(ctx context.Context, req launch.Request, runTimeline bool, successMessage string) (Result, error) {
	phase := m.sup.Status().Phase
	if phase != emulator.PhaseIdle && phase != emulator.PhaseError {
		// Precondition failure: reject without disturbing the live state.
		return Result{}, agenterr.Newf(agenterr.CodeInvalidState,
			"cannot launch program in current state: %s", phase)
	}

	if req.LaunchID == "" {
		req.LaunchID = uuid.NewString()
	}
	logger.Infof("manager: launching %q (launch id %s)", req.ProgramTitle, req.LaunchID)

	if m.notifier != nil {
		m.notifier.SetLaunchID(req.LaunchID)
	}
	m.sup.SetPhase(emulator.PhaseLaunching, nil)

	imagePaths, err := m.images.PrepareImages(ctx, req.Images)
	if err != nil {
		return Result{}, m.fail(err)
	}

	plan, err := m.launcher.Prepare(req, imagePaths)
	if err != nil {
		return Result{}, m.fail(err)
	}

	if err := m.proc.Start(plan.Command, plan.ProgramTitle); err != nil {
		return Result{}, m.fail(err)
	}

	title := plan.ProgramTitle
	m.sup.SetPhase(emulator.PhaseRunning, &title)

	if runTimeline && len(plan.Timeline) > 0 && m.timeline != nil {
		go m.timeline.Run(context.WithoutCancel(ctx), plan, imagePaths, m.proc, func(force bool) error {
			_, err := m.Stop(context.Background(), force)
			return err
		})
	}

	return Result{
		Status:   "SUCCESS",
		Message:  successMessage,
		LaunchID: plan.LaunchID,
	}, nil
}

// Stop stops the currently running program.
func (m *Manager) Stop(ctx context.Context, force bool) (Result, error) {
	phase := m.sup.Status().Phase
	if phase != emulator.PhaseRunning && phase != emulator.PhaseError {
		return Result{}, agenterr.Newf(agenterr.CodeInvalidState,
			"cannot stop program in current state: %s", phase)
	}

	logger.Infof("manager: stopping program (force=%v)", force)
	m.sup.SetPhase(emulator.PhaseStopping, nil)

	if err := m.proc.Stop(force); err != nil {
		return Result{}, m.fail(err)
	}

	m.sup.SetPhase(emulator.PhaseIdle, nil)
	if m.notifier != nil {
		m.notifier.SetLaunchID("")
	}
	m.sup.Reconcile(ctx)

	return Result{Status: "SUCCESS", Message: "Program stopped successfully"}, nil
}

// HandleProcessExit reacts to an unexpected emulator termination observed
// by the process monitor.
func (m *Manager) HandleProcessExit(pid int32, exitCode int) {
	logger.Errorf("manager: emulator terminated unexpectedly pid=%d exit=%d", pid, exitCode)
	m.sup.SetPhase(emulator.PhaseError, nil)
	if m.notifier != nil {
		m.notifier.NotifyError(agenterr.CodeProcessTerminated,
			"Emulator process terminated unexpectedly",
			map[string]any{"pid": pid, "exitCode": exitCode})
	}
}

// fail records the error phase, notifies clients and returns the coded
// error for the API layer to map.
func (m *Manager) fail(err error) error {
	var coded *agenterr.Error
	if !errors.As(err, &coded) {
		coded = agenterr.AsError(err)
	}
	logger.Errorf("manager: %s - %s", coded.Code, coded.Message)

	m.sup.SetPhase(emulator.PhaseError, nil)
	if m.notifier != nil {
		m.notifier.NotifyError(coded.Code, coded.Message, coded.Details)
	}
	return coded
}
