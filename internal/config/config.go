package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds agent configuration.
//
// All values come from RETRO_AGENT_* environment variables (optionally
// loaded from a .env file) and are treated as read-only after startup.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr  string
	Debug bool

	// EmulatorProcessName is the executable name the probe scans the
	// process table for when no tracked process or status file is found.
	EmulatorProcessName string
	// StatusFilePath is the side-channel file the launch path writes so
	// the probe can recover pid and demo across agent restarts.
	StatusFilePath string

	// ReconcileInterval is the background reconciliation tick period.
	ReconcileInterval time.Duration
	// ProbeTimeout bounds a single process probe.
	ProbeTimeout time.Duration

	// BinaryMap maps logical emulator binary names to executable paths,
	// collected from RETRO_AGENT_BINARY_<NAME> variables.
	BinaryMap map[string]string

	// Disk image cache settings.
	CacheDir     string
	MaxCacheSize int64

	// Object storage (MinIO) settings for disk image downloads.
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool

	// ViceMonitorAddr is the VICE remote monitor address for disk attach.
	ViceMonitorAddr string
	// KeyboardBangerURL receives PRESS_KEYS payloads during playback.
	KeyboardBangerURL string

	AllowedOrigins []string
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr              *string
	Debug             *bool
	StatusFilePath    *string
	ReconcileInterval *time.Duration
	ProbeTimeout      *time.Duration
	CacheDir          *string
}

const envPrefix = "RETRO_AGENT_"

// Load loads agent configuration from the environment and applies any
// explicit overrides. A .env file in the working directory is honored when
// present.
func Load(overrides Overrides) (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	host := getenv("HOST", "0.0.0.0")
	port := 5000
	if portStr := os.Getenv(envPrefix + "PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid %sPORT: %q", envPrefix, portStr)
		}
		port = p
	}

	cfg := &Config{
		Addr:                fmt.Sprintf("%s:%d", host, port),
		Debug:               getbool("DEBUG", true),
		EmulatorProcessName: getenv("PROCESS_NAME", "x64sc"),
		StatusFilePath:      getenv("STATUS_FILE", "/tmp/retro-agent-status.json"),
		ReconcileInterval:   getduration("RECONCILE_INTERVAL", 5*time.Second),
		ProbeTimeout:        getduration("PROBE_TIMEOUT", 2*time.Second),
		BinaryMap:           loadBinaryMap(),
		CacheDir:            getenv("CACHE_DIR", "./image-cache"),
		MaxCacheSize:        getint64("MAX_CACHE_SIZE", 2<<30),
		StorageEndpoint:     getenv("STORAGE_ENDPOINT", ""),
		StorageAccessKey:    getenv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey:    getenv("STORAGE_SECRET_KEY", ""),
		StorageBucket:       getenv("STORAGE_BUCKET", "disk-images"),
		StorageUseSSL:       getbool("STORAGE_USE_SSL", false),
		ViceMonitorAddr:     getenv("VICE_MONITOR_ADDR", "localhost:6510"),
		KeyboardBangerURL:   getenv("KEYBOARD_BANGER_URL", ""),
		AllowedOrigins:      []string{"*"}, // LAN-local dev agent, allow all origins
	}

	if overrides.Addr != nil {
		cfg.Addr = *overrides.Addr
	}
	if overrides.Debug != nil {
		cfg.Debug = *overrides.Debug
	}
	if overrides.StatusFilePath != nil {
		cfg.StatusFilePath = *overrides.StatusFilePath
	}
	if overrides.ReconcileInterval != nil {
		cfg.ReconcileInterval = *overrides.ReconcileInterval
	}
	if overrides.ProbeTimeout != nil {
		cfg.ProbeTimeout = *overrides.ProbeTimeout
	}
	if overrides.CacheDir != nil {
		cfg.CacheDir = *overrides.CacheDir
	}

	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive, got %v", cfg.ReconcileInterval)
	}
	if cfg.ProbeTimeout <= 0 {
		return nil, fmt.Errorf("probe timeout must be positive, got %v", cfg.ProbeTimeout)
	}

	return cfg, nil
}

// loadBinaryMap collects RETRO_AGENT_BINARY_<NAME>=<path> variables into a
// lowercase name -> path map.
func loadBinaryMap() map[string]string {
	binaries := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		name, found := strings.CutPrefix(key, envPrefix+"BINARY_")
		if !found || name == "" {
			continue
		}
		binaries[strings.ToLower(name)] = value
	}
	return binaries
}

func getenv(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(envPrefix + key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func getint64(key string, fallback int64) int64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
