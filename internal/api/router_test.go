package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demovault/retro-agent/internal/emulator"
	"github.com/demovault/retro-agent/internal/launch"
	"github.com/demovault/retro-agent/internal/manager"
	"github.com/demovault/retro-agent/internal/websocket"
	"github.com/demovault/retro-agent/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *emulator.Supervisor) {
	t.Helper()
	sup := emulator.NewSupervisor(emulator.NewSimulated(), emulator.NewSimulated(),
		time.Second, time.Hour)
	hub := websocket.NewHub(sup.Status)
	sup.SetListener(hub)
	return NewRouter(Deps{Supervisor: sup, Hub: hub}), sup
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) emulator.Snapshot {
	t.Helper()
	var snap emulator.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func TestRootEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Retro emulator agent", w.Body.String())
}

func TestGetStatus(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.False(t, snap.Running)
	assert.Equal(t, emulator.ModeReal, snap.Mode)
	assert.Equal(t, emulator.PhaseIdle, snap.Phase)

	// currentDemo must be present (and null) even when not running.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	demo, present := raw["currentDemo"]
	assert.True(t, present)
	assert.Nil(t, demo)
}

func TestSetModeRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "SIMULATED"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, emulator.ModeSimulated, decodeSnapshot(t, w).Mode)

	w = doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "REAL"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, emulator.ModeReal, decodeSnapshot(t, w).Mode)
}

func TestSetModeDefaultsToReal(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, emulator.ModeReal, decodeSnapshot(t, w).Mode)
}

func TestSetModeInvalid(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "TURBO"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ERROR", resp.Status)
	assert.Equal(t, "INVALID_INPUT", resp.Code)
}

func TestSetStateRequiresSimulatedMode(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/dev/state",
		gin.H{"running": true, "demo": "Edge of Disgrace"})
	require.Equal(t, http.StatusConflict, w.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_OPERATION", resp.Code)
}

func TestSetStateInSimulatedMode(t *testing.T) {
	router, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK,
		doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "SIMULATED"}).Code)

	w := doJSON(t, router, http.MethodPost, "/dev/state",
		gin.H{"running": true, "demo": "Edge of Disgrace"})
	require.Equal(t, http.StatusOK, w.Code)

	snap := decodeSnapshot(t, w)
	assert.True(t, snap.Running)
	require.NotNil(t, snap.CurrentDemo)
	assert.Equal(t, "Edge of Disgrace", *snap.CurrentDemo)

	// And it shows up on subsequent reads.
	snap = decodeSnapshot(t, doJSON(t, router, http.MethodGet, "/status", nil))
	assert.True(t, snap.Running)
}

func TestSetStateAcceptsStringBool(t *testing.T) {
	router, _ := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "SIMULATED"})

	w := doJSON(t, router, http.MethodPost, "/dev/state",
		gin.H{"running": "true", "demo": "demo"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeSnapshot(t, w).Running)

	w = doJSON(t, router, http.MethodPost, "/dev/state", gin.H{"running": "false"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeSnapshot(t, w).Running)
}

func TestSetStateNotRunningClearsDemo(t *testing.T) {
	router, _ := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "SIMULATED"})

	// A demo without running must not surface.
	w := doJSON(t, router, http.MethodPost, "/dev/state",
		gin.H{"running": false, "demo": "phantom"})
	require.Equal(t, http.StatusOK, w.Code)

	snap := decodeSnapshot(t, w)
	assert.False(t, snap.Running)
	assert.Nil(t, snap.CurrentDemo)
}

func TestModeSwitchClearsSimulatedState(t *testing.T) {
	router, _ := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "SIMULATED"})
	doJSON(t, router, http.MethodPost, "/dev/state", gin.H{"running": true, "demo": "demo"})

	// Back to REAL: the simulated probe must not leak through.
	w := doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "REAL"})
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, emulator.ModeReal, snap.Mode)
	assert.False(t, snap.Running)

	// And re-entering SIMULATED starts clean.
	w = doJSON(t, router, http.MethodPost, "/dev/mode", gin.H{"mode": "SIMULATED"})
	snap = decodeSnapshot(t, w)
	assert.False(t, snap.Running)
	assert.Nil(t, snap.CurrentDemo)
}

func TestSimulateError(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/dev/error", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
}

func TestMalformedJSONRejected(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/dev/state",
		bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// Program routes wired through a real coordinator with a stub process
// runner, exercising the full HTTP -> manager -> supervisor path.

type stubProc struct{ running bool }

func (s *stubProc) Start(command []string, demo string) error { s.running = true; return nil }
func (s *stubProc) Stop(force bool) error                     { s.running = false; return nil }
func (s *stubProc) IsRunning() bool                           { return s.running }

type stubImages struct{}

func (stubImages) PrepareImages(ctx context.Context, images []launch.Image) ([]string, error) {
	return []string{"/cache/disk1.d64"}, nil
}

func newProgramRouter(t *testing.T) (*gin.Engine, *emulator.Supervisor) {
	t.Helper()
	binary := filepath.Join(t.TempDir(), "x64sc")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755))

	sup := emulator.NewSupervisor(emulator.NewSimulated(), emulator.NewSimulated(),
		time.Second, time.Hour)
	hub := websocket.NewHub(sup.Status)
	mgr := manager.New(sup, &stubProc{},
		launch.NewManager(map[string]string{"x64sc": binary}),
		stubImages{}, nil, hub)
	return NewRouter(Deps{Supervisor: sup, Manager: mgr, Hub: hub}), sup
}

func launchBody() gin.H {
	return gin.H{
		"binary":        "x64sc",
		"platform_name": "Commodore 64",
		"program_title": "Edge of Disgrace",
		"programType":   "demo",
		"authors":       "Booze Design",
		"images": []gin.H{{
			"disk_number":  1,
			"file_hash":    "abc123",
			"storage_path": "images/eod.d64",
			"size":         174848,
		}},
	}
}

func TestProgramLaunchAndStop(t *testing.T) {
	router, sup := newProgramRouter(t)

	w := doJSON(t, router, http.MethodPost, "/program/launch", launchBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res manager.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "SUCCESS", res.Status)
	assert.NotEmpty(t, res.LaunchID)
	assert.Equal(t, emulator.PhaseRunning, sup.Status().Phase)

	w = doJSON(t, router, http.MethodPost, "/program/stop", gin.H{"force": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, emulator.PhaseIdle, sup.Status().Phase)
}

func TestProgramLaunchConflictWhileRunning(t *testing.T) {
	router, _ := newProgramRouter(t)

	require.Equal(t, http.StatusOK,
		doJSON(t, router, http.MethodPost, "/program/launch", launchBody()).Code)

	w := doJSON(t, router, http.MethodPost, "/program/launch", launchBody())
	require.Equal(t, http.StatusConflict, w.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_STATE", resp.Code)
}

func TestProgramLaunchMissingFields(t *testing.T) {
	router, _ := newProgramRouter(t)

	body := launchBody()
	delete(body, "authors")
	w := doJSON(t, router, http.MethodPost, "/program/launch", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "LAUNCH_PREPARATION_FAILED", resp.Code)
}

func TestProgramStopWithoutProgram(t *testing.T) {
	router, _ := newProgramRouter(t)

	w := doJSON(t, router, http.MethodPost, "/program/stop", gin.H{})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProgramRoutesAbsentWithoutManager(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/program/launch", launchBody())
	assert.Equal(t, http.StatusNotFound, w.Code)
}
