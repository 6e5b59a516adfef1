// Package api builds the agent's HTTP surface.
package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/demovault/retro-agent/internal/api/handlers"
	"github.com/demovault/retro-agent/internal/api/middleware"
	"github.com/demovault/retro-agent/internal/emulator"
	"github.com/demovault/retro-agent/internal/manager"
	"github.com/demovault/retro-agent/internal/websocket"
)

// Deps are the collaborators the HTTP surface forwards to.
type Deps struct {
	Supervisor *emulator.Supervisor
	Manager    *manager.Manager
	Hub        *websocket.Hub

	AllowedOrigins []string
}

// NewRouter wires the gin router with all agent routes.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware())

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	// Root endpoint - returns plain text for client validation
	router.GET("/", func(c *gin.Context) {
		c.String(200, "Retro emulator agent")
	})

	statusHandler := handlers.NewStatusHandler(deps.Supervisor)
	devHandler := handlers.NewDevHandler(deps.Supervisor, deps.Hub)

	router.GET("/status", statusHandler.GetStatus)

	dev := router.Group("/dev")
	{
		dev.POST("/mode", devHandler.SetMode)
		dev.POST("/state", devHandler.SetState)
		dev.POST("/error", devHandler.SimulateError)
	}

	if deps.Manager != nil {
		programHandler := handlers.NewProgramHandler(deps.Manager)
		program := router.Group("/program")
		{
			program.POST("/launch", programHandler.Launch)
			program.POST("/curate", programHandler.Curate)
			program.POST("/stop", programHandler.Stop)
		}
	}

	if deps.Hub != nil {
		router.GET("/ws", deps.Hub.HandleWS)
	}

	return router
}
