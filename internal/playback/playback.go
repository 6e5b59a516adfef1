// Package playback replays a launch's timeline events against the running
// emulator: mounting follow-up disks, pressing keys, ending playback.
package playback

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/demovault/retro-agent/internal/launch"
	"github.com/demovault/retro-agent/internal/logger"
)

// Mounter attaches a disk image to the emulator.
type Mounter interface {
	AttachImage(ctx context.Context, imagePath string, drive int) (string, error)
}

// Watcher reports whether the emulator process is still alive. Playback
// aborts silently when it dies.
type Watcher interface {
	IsRunning() bool
}

// StopFunc stops the running program (END_PLAYBACK).
type StopFunc func(force bool) error

// Runner executes timeline plans.
type Runner struct {
	mounter   Mounter
	bangerURL string
	client    *http.Client

	// poll is the liveness check interval while waiting out delays.
	poll time.Duration
}

// NewRunner creates a playback runner. bangerURL may be empty when the
// host has no keyboard banger; PRESS_KEYS events are then skipped.
func NewRunner(mounter Mounter, bangerURL string) *Runner {
	return &Runner{
		mounter:   mounter,
		bangerURL: bangerURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		poll:      time.Second,
	}
}

// Run walks the plan's timeline. imagePaths are the launch's cached disk
// images in disk order; MOUNT_NEXT_DISK cycles through them starting after
// the boot image.
func (r *Runner) Run(ctx context.Context, plan launch.Plan, imagePaths []string, watcher Watcher, stop StopFunc) {
	logger.Infof("playback: starting timeline for %q (%d events)", plan.ProgramTitle, len(plan.Timeline))

	started := time.Now()
	imageIndex := 0

	for _, evt := range plan.Timeline {
		if !r.waitUntil(ctx, started.Add(evt.Offset), watcher) {
			logger.Infof("playback: aborted before %s event", evt.Type)
			return
		}

		logger.Infof("playback: executing %s at +%v", evt.Type, evt.Offset)
		switch evt.Type {
		case launch.EventEndPlayback:
			if err := stop(false); err != nil {
				logger.Errorf("playback: stop failed: %v", err)
			}
			return

		case launch.EventMountNextDisk:
			imageIndex++
			if imageIndex >= len(imagePaths) {
				imageIndex = 0
			}
			if len(imagePaths) == 0 {
				logger.Warnf("playback: no disk images to mount")
				continue
			}
			if _, err := r.mounter.AttachImage(ctx, imagePaths[imageIndex], 8); err != nil {
				logger.Errorf("playback: mount next disk failed: %v", err)
			}

		case launch.EventPressKeys:
			r.pressKeys(ctx, evt.Data)

		default:
			logger.Warnf("playback: unknown event type %q", evt.Type)
		}
	}

	logger.Infof("playback: timeline for %q complete", plan.ProgramTitle)
}

// waitUntil sleeps until the deadline, polling the watcher. Returns false
// when the context is cancelled or the emulator died.
func (r *Runner) waitUntil(ctx context.Context, deadline time.Time, watcher Watcher) bool {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		wait := r.poll
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if watcher != nil && !watcher.IsRunning() {
			return false
		}
	}
}

func (r *Runner) pressKeys(ctx context.Context, data map[string]any) {
	keys, _ := data["keys"].(string)
	if keys == "" {
		logger.Warnf("playback: PRESS_KEYS event without keys")
		return
	}
	if r.bangerURL == "" {
		logger.Warnf("playback: no keyboard banger configured, skipping keys %q", keys)
		return
	}

	logger.Infof("playback: pressing keys %q", keys)
	form := url.Values{"keys": {keys}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.bangerURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		logger.Errorf("playback: keypress request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		logger.Errorf("playback: keypress send failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logger.Errorf("playback: keypress rejected: %v", fmt.Errorf("status %d", resp.StatusCode))
	}
}
