package emulator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	pid  int32
	demo string
	ok   bool
}

func (f *fakeTracker) Tracked() (int32, string, bool) {
	return f.pid, f.demo, f.ok
}

func writeStatusFile(t *testing.T, sf StatusFile) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status.json")
	data, err := json.Marshal(sf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func alwaysAlive(context.Context, int32) bool { return true }
func neverAlive(context.Context, int32) bool  { return false }

func TestProbePrefersTrackedProcess(t *testing.T) {
	probe := NewProcessProbe("x64sc", "", &fakeTracker{pid: 4242, demo: "Coma Light 13", ok: true})
	probe.pidAlive = alwaysAlive

	reading, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, reading.Running)
	require.NotNil(t, reading.Demo)
	assert.Equal(t, "Coma Light 13", *reading.Demo)
}

func TestProbeTrackedWithoutDemo(t *testing.T) {
	probe := NewProcessProbe("", "", &fakeTracker{pid: 4242, ok: true})
	probe.pidAlive = alwaysAlive

	reading, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, reading.Running)
	assert.Nil(t, reading.Demo)
}

func TestProbeDeadTrackedFallsThrough(t *testing.T) {
	// A tracked pid that is no longer alive must not count as running.
	probe := NewProcessProbe("", "", &fakeTracker{pid: 4242, demo: "demo", ok: true})
	probe.pidAlive = neverAlive

	reading, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, reading.Running)
	assert.Nil(t, reading.Demo)
}

func TestProbeStatusFile(t *testing.T) {
	path := writeStatusFile(t, StatusFile{
		PID:       int32(os.Getpid()),
		Demo:      "Edge of Disgrace",
		StartedAt: time.Now(),
	})
	probe := NewProcessProbe("", path, nil)

	reading, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, reading.Running)
	require.NotNil(t, reading.Demo)
	assert.Equal(t, "Edge of Disgrace", *reading.Demo)
}

func TestProbeStatusFileStalePID(t *testing.T) {
	path := writeStatusFile(t, StatusFile{PID: 99999, Demo: "gone"})
	probe := NewProcessProbe("", path, nil)
	probe.pidAlive = neverAlive

	reading, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, reading.Running)
}

func TestProbeStatusFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	probe := NewProcessProbe("", path, nil)

	reading, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, reading.Running)
}

func TestProbeStatusFileMissing(t *testing.T) {
	probe := NewProcessProbe("", filepath.Join(t.TempDir(), "absent.json"), nil)

	reading, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, reading.Running)
}

func TestProbeEmptyConfigurationReportsNotRunning(t *testing.T) {
	probe := NewProcessProbe("", "", nil)

	reading, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, reading.Running)
	assert.Nil(t, reading.Demo)
}

func TestSimulatedBackend(t *testing.T) {
	sim := NewSimulated()

	reading, err := sim.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, reading.Running)

	sim.Apply(true, strptr("Uncensored"))
	reading, err = sim.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, reading.Running)
	require.NotNil(t, reading.Demo)
	assert.Equal(t, "Uncensored", *reading.Demo)

	sim.Reset()
	reading, err = sim.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, reading.Running)
	assert.Nil(t, reading.Demo)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("REAL")
	require.NoError(t, err)
	assert.Equal(t, ModeReal, mode)

	mode, err = ParseMode("SIMULATED")
	require.NoError(t, err)
	assert.Equal(t, ModeSimulated, mode)

	_, err = ParseMode("real")
	assert.Error(t, err)

	_, err = ParseMode("")
	assert.Error(t, err)
}
