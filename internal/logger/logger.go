// Package logger provides the shared leveled logging facade for the agent.
package logger

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level controls which log lines are emitted.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	level atomic.Int32
	log   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

func init() {
	level.Store(int32(LevelInfo))
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// SetOutput replaces the underlying writer. Used by tests to capture output.
func SetOutput(l zerolog.Logger) {
	log = l
}

func enabled(l Level) bool {
	return int32(l) >= level.Load()
}

func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Debug().Msgf(format, args...)
	}
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		log.Info().Msgf(format, args...)
	}
}

func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		log.Warn().Msgf(format, args...)
	}
}

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		log.Error().Msgf(format, args...)
	}
}
