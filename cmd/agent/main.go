package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/demovault/retro-agent/internal/api"
	"github.com/demovault/retro-agent/internal/cache"
	"github.com/demovault/retro-agent/internal/config"
	"github.com/demovault/retro-agent/internal/emulator"
	"github.com/demovault/retro-agent/internal/launch"
	"github.com/demovault/retro-agent/internal/logger"
	"github.com/demovault/retro-agent/internal/manager"
	"github.com/demovault/retro-agent/internal/playback"
	"github.com/demovault/retro-agent/internal/process"
	"github.com/demovault/retro-agent/internal/vice"
	"github.com/demovault/retro-agent/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The process manager's callbacks close over the supervisor and
	// coordinator, both wired below.
	var sup *emulator.Supervisor
	var mgr *manager.Manager
	procMgr := process.NewManager(cfg.StatusFilePath,
		func(s process.Stats) {
			sup.UpdateProcessStats(emulator.ProcessStats{
				PID:           s.PID,
				CPUPercent:    s.CPUPercent,
				MemoryPercent: s.MemoryPercent,
			})
		},
		func(evt process.ExitEvent) {
			mgr.HandleProcessExit(evt.PID, evt.ExitCode)
		})

	probe := emulator.NewProcessProbe(cfg.EmulatorProcessName, cfg.StatusFilePath, procMgr)
	sup = emulator.NewSupervisor(probe, emulator.NewSimulated(), cfg.ProbeTimeout, cfg.ReconcileInterval)
	sup.SetSystemSampler(emulator.SampleSystemStats)

	hub := websocket.NewHub(sup.Status)
	sup.SetListener(hub)

	imageCache, err := cache.New(cache.Options{
		Dir:       cfg.CacheDir,
		MaxSize:   cfg.MaxCacheSize,
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		UseSSL:    cfg.StorageUseSSL,
	})
	if err != nil {
		logger.Errorf("Failed to initialize image cache: %v", err)
		os.Exit(1)
	}

	launcher := launch.NewManager(cfg.BinaryMap)
	runner := playback.NewRunner(vice.NewClient(cfg.ViceMonitorAddr), cfg.KeyboardBangerURL)
	mgr = manager.New(sup, procMgr, launcher, imageCache, runner, hub)

	// First reconciliation before serving so /status never reports the
	// boot placeholder.
	sup.Reconcile(ctx)
	go sup.Run(ctx)

	router := api.NewRouter(api.Deps{
		Supervisor:     sup,
		Manager:        mgr,
		Hub:            hub,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	go func() {
		<-ctx.Done()
		logger.Infof("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Retro agent starting on http://%s", cfg.Addr)
	logger.Infof("Emulator process: %s, mode: %s", cfg.EmulatorProcessName, sup.Mode())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
