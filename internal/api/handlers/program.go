package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/internal/launch"
	"github.com/demovault/retro-agent/internal/manager"
)

// ProgramHandler serves program launch/curate/stop.
type ProgramHandler struct {
	mgr *manager.Manager
}

func NewProgramHandler(mgr *manager.Manager) *ProgramHandler {
	return &ProgramHandler{mgr: mgr}
}

// Launch handles POST /program/launch.
func (h *ProgramHandler) Launch(c *gin.Context) {
	var req launch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, agenterr.Wrap(agenterr.CodeInvalidInput, "malformed request body", err))
		return
	}

	result, err := h.mgr.Launch(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Curate handles POST /program/curate: launch without timeline playback.
func (h *ProgramHandler) Curate(c *gin.Context) {
	var req launch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, agenterr.Wrap(agenterr.CodeInvalidInput, "malformed request body", err))
		return
	}

	result, err := h.mgr.Curate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StopRequest is the body of POST /program/stop.
type StopRequest struct {
	Force FlexBool `json:"force"`
}

// Stop handles POST /program/stop.
func (h *ProgramHandler) Stop(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, agenterr.Wrap(agenterr.CodeInvalidInput, "malformed request body", err))
		return
	}

	result, err := h.mgr.Stop(c.Request.Context(), bool(req.Force))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
