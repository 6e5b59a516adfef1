// Package launch validates launch requests and builds emulator commands.
package launch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/internal/logger"
)

// Timeline event types understood by the playback runner.
const (
	EventEndPlayback   = "END_PLAYBACK"
	EventMountNextDisk = "MOUNT_NEXT_DISK"
	EventPressKeys     = "PRESS_KEYS"
)

// Image describes one disk image needed by a launch.
type Image struct {
	DiskNumber  int    `json:"disk_number"`
	FileHash    string `json:"file_hash"`
	StoragePath string `json:"storage_path"`
	Size        int64  `json:"size"`
}

// TimelineEvent is a raw timeline entry with a delay relative to the
// previous event.
type TimelineEvent struct {
	EventType    string         `json:"event_type"`
	DelaySeconds int            `json:"delay_seconds"`
	EventData    map[string]any `json:"event_data,omitempty"`
}

// Request is a program launch request as received over the API.
type Request struct {
	LaunchID        string          `json:"launchId"`
	Binary          string          `json:"binary"`
	CommandLineArgs string          `json:"command_line_args"`
	Images          []Image         `json:"images"`
	PlatformName    string          `json:"platform_name"`
	ProgramTitle    string          `json:"program_title"`
	ProgramType     string          `json:"programType"`
	Authors         string          `json:"authors"`
	Timeline        []TimelineEvent `json:"playback_timeline_events,omitempty"`
}

// ScheduledEvent is a timeline event normalized to an absolute offset from
// launch.
type ScheduledEvent struct {
	Offset time.Duration
	Type   string
	Data   map[string]any
}

// Plan is a fully validated, executable launch.
type Plan struct {
	LaunchID     string
	Binary       string
	ProgramTitle string
	Command      []string
	Timeline     []ScheduledEvent
}

// Manager resolves binaries and prepares launch plans.
type Manager struct {
	binaries map[string]string
}

// NewManager creates a launch manager over the configured binary map.
func NewManager(binaryMap map[string]string) *Manager {
	if binaryMap == nil {
		binaryMap = map[string]string{}
	}
	return &Manager{binaries: binaryMap}
}

// BinaryPath resolves a logical binary name to an executable path.
func (m *Manager) BinaryPath(name string) (string, bool) {
	path, ok := m.binaries[strings.ToLower(name)]
	return path, ok
}

// Prepare validates the request and builds the launch plan. imagePaths are
// the locally cached image files, ordered by disk number.
func (m *Manager) Prepare(req Request, imagePaths []string) (Plan, error) {
	if err := m.Validate(req); err != nil {
		return Plan{}, agenterr.Wrap(agenterr.CodeLaunchPreparation,
			"failed to prepare launch", err)
	}

	command, err := m.buildCommand(req, imagePaths)
	if err != nil {
		return Plan{}, agenterr.Wrap(agenterr.CodeLaunchPreparation,
			"failed to prepare launch", err)
	}

	plan := Plan{
		LaunchID:     req.LaunchID,
		Binary:       req.Binary,
		ProgramTitle: req.ProgramTitle,
		Command:      command,
		Timeline:     normalizeTimeline(req.Timeline),
	}
	if plan.LaunchID == "" {
		plan.LaunchID = uuid.NewString()
	}
	return plan, nil
}

// Validate checks a launch request for completeness.
func (m *Manager) Validate(req Request) error {
	var missing []string
	if req.Binary == "" {
		missing = append(missing, "binary")
	}
	if req.PlatformName == "" {
		missing = append(missing, "platform_name")
	}
	if req.ProgramTitle == "" {
		missing = append(missing, "program_title")
	}
	if req.ProgramType == "" {
		missing = append(missing, "programType")
	}
	if req.Authors == "" {
		missing = append(missing, "authors")
	}
	if len(missing) > 0 {
		return agenterr.Newf(agenterr.CodeInvalidConfig,
			"missing required fields: %s", strings.Join(missing, ", "))
	}

	binaryPath, ok := m.BinaryPath(req.Binary)
	if !ok {
		return agenterr.Newf(agenterr.CodeBinaryNotFound,
			"emulator binary not mapped: %s", req.Binary)
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return agenterr.Newf(agenterr.CodeBinaryNotFound,
			"emulator binary not found: %s at %s", req.Binary, binaryPath)
	}

	if len(req.Images) == 0 {
		return agenterr.New(agenterr.CodeInvalidConfig,
			"at least one disk image is required")
	}
	for _, img := range req.Images {
		if err := validateImage(img); err != nil {
			return err
		}
	}

	for i, evt := range req.Timeline {
		if evt.EventType == "" {
			return agenterr.Newf(agenterr.CodeInvalidConfig,
				"missing event_type in timeline event at position %d", i)
		}
		if evt.DelaySeconds < 0 {
			return agenterr.Newf(agenterr.CodeInvalidConfig,
				"invalid timing in timeline event at position %d", i)
		}
	}
	return nil
}

func validateImage(img Image) error {
	var missing []string
	if img.DiskNumber == 0 {
		missing = append(missing, "disk_number")
	}
	if img.FileHash == "" {
		missing = append(missing, "file_hash")
	}
	if img.StoragePath == "" {
		missing = append(missing, "storage_path")
	}
	if img.Size == 0 {
		missing = append(missing, "size")
	}
	if len(missing) > 0 {
		return agenterr.Newf(agenterr.CodeInvalidConfig,
			"missing image fields: %s", strings.Join(missing, ", "))
	}
	if img.DiskNumber < 1 {
		return agenterr.New(agenterr.CodeInvalidConfig,
			"disk number must be greater than 0")
	}
	if img.Size < 0 {
		return agenterr.New(agenterr.CodeInvalidConfig,
			"image size must be greater than 0")
	}
	return nil
}

// buildCommand assembles the emulator argv: binary, configured args, and
// the first image path as the boot image.
func (m *Manager) buildCommand(req Request, imagePaths []string) ([]string, error) {
	binaryPath, ok := m.BinaryPath(req.Binary)
	if !ok {
		return nil, agenterr.Newf(agenterr.CodeBinaryNotFound,
			"binary path not found for %s", req.Binary)
	}

	command := []string{binaryPath}
	if req.CommandLineArgs != "" {
		command = append(command, strings.Fields(req.CommandLineArgs)...)
	}

	if len(imagePaths) > 0 {
		bootImage, err := filepath.Abs(imagePaths[0])
		if err != nil {
			return nil, err
		}
		logger.Debugf("launch: using boot image %s", bootImage)
		command = append(command, bootImage)
	}

	logger.Infof("launch: built command: %s", strings.Join(command, " "))
	return command, nil
}

// normalizeTimeline converts relative delays into absolute offsets from
// launch, sorted ascending.
func normalizeTimeline(events []TimelineEvent) []ScheduledEvent {
	if len(events) == 0 {
		return nil
	}
	scheduled := make([]ScheduledEvent, 0, len(events))
	offset := time.Duration(0)
	for _, evt := range events {
		offset += time.Duration(evt.DelaySeconds) * time.Second
		scheduled = append(scheduled, ScheduledEvent{
			Offset: offset,
			Type:   evt.EventType,
			Data:   evt.EventData,
		})
	}
	sort.SliceStable(scheduled, func(i, j int) bool {
		return scheduled[i].Offset < scheduled[j].Offset
	})
	return scheduled
}
