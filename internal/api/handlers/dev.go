package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/internal/emulator"
	"github.com/demovault/retro-agent/internal/websocket"
	"github.com/demovault/retro-agent/pkg/types"
)

// DevHandler serves the development surface: mode switching, simulated
// state writes and error simulation.
type DevHandler struct {
	sup *emulator.Supervisor
	hub *websocket.Hub
}

func NewDevHandler(sup *emulator.Supervisor, hub *websocket.Hub) *DevHandler {
	return &DevHandler{sup: sup, hub: hub}
}

// DevModeRequest is the body of POST /dev/mode.
type DevModeRequest struct {
	Mode string `json:"mode"`
}

// SetMode handles POST /dev/mode: switch between real process monitoring
// and simulated state.
func (h *DevHandler) SetMode(c *gin.Context) {
	var req DevModeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, agenterr.Wrap(agenterr.CodeInvalidInput, "malformed request body", err))
		return
	}
	if req.Mode == "" {
		req.Mode = string(emulator.ModeReal)
	}

	mode, err := emulator.ParseMode(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}

	snap, err := h.sup.SetMode(c.Request.Context(), mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DevStateRequest is the body of POST /dev/state.
type DevStateRequest struct {
	Running FlexBool `json:"running"`
	Demo    *string  `json:"demo"`
}

// SetState handles POST /dev/state: manually set emulator state for
// testing. Only valid in SIMULATED mode.
func (h *DevHandler) SetState(c *gin.Context) {
	var req DevStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, agenterr.Wrap(agenterr.CodeInvalidInput, "malformed request body", err))
		return
	}

	snap, err := h.sup.SetDevState(c.Request.Context(), bool(req.Running), req.Demo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DevErrorRequest is the body of POST /dev/error.
type DevErrorRequest struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// SimulateError handles POST /dev/error: broadcast a simulated ERROR over
// WebSocket so dashboards can exercise their error paths.
func (h *DevHandler) SimulateError(c *gin.Context) {
	var req DevErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, agenterr.Wrap(agenterr.CodeInvalidInput, "malformed request body", err))
		return
	}

	if req.Code == "" {
		req.Code = "EMULATOR_CRASH"
	}
	if req.Message == "" {
		req.Message = "Simulated emulator crash"
	}
	if req.Details == nil {
		req.Details = map[string]any{
			"exitCode":  1,
			"processId": 1234,
			"timestamp": time.Now().Unix(),
		}
	}

	if h.hub != nil {
		h.hub.NotifyError(req.Code, req.Message, req.Details)
	}
	c.JSON(http.StatusOK, types.SuccessResponse{Status: "success", Message: "Error simulated"})
}
