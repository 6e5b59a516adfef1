package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/demovault/retro-agent/internal/emulator"
)

// StatusHandler serves the canonical emulator snapshot.
type StatusHandler struct {
	sup *emulator.Supervisor
}

func NewStatusHandler(sup *emulator.Supervisor) *StatusHandler {
	return &StatusHandler{sup: sup}
}

// GetStatus handles GET /status. Reads only the in-memory snapshot.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sup.Status())
}
