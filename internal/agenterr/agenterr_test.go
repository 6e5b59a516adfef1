package agenterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeInvalidInput, "bad mode")
	assert.Equal(t, "INVALID_INPUT: bad mode", err.Error())

	wrapped := Wrap(CodeProbeUnavailable, "scan failed", errors.New("permission denied"))
	assert.Equal(t, "PROBE_UNAVAILABLE: scan failed: permission denied", wrapped.Error())
}

func TestNewf(t *testing.T) {
	err := Newf(CodeBinaryNotFound, "no binary for %q", "x64sc")
	assert.Equal(t, `no binary for "x64sc"`, err.Message)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(CodeSystem, "wrapper", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsMatchesOnCode(t *testing.T) {
	err := New(CodeInvalidOperation, "not in simulated mode")

	assert.True(t, Is(err, CodeInvalidOperation))
	assert.False(t, Is(err, CodeInvalidInput))
	assert.False(t, Is(errors.New("plain"), CodeInvalidOperation))
	assert.False(t, Is(nil, CodeInvalidOperation))

	// Through fmt wrapping too.
	outer := fmt.Errorf("handler: %w", err)
	assert.True(t, Is(outer, CodeInvalidOperation))
}

func TestErrorsIsSentinel(t *testing.T) {
	err := Wrap(CodeProcessStart, "spawn failed", errors.New("exec")) // carries a cause
	assert.True(t, errors.Is(err, New(CodeProcessStart, "")))
	assert.False(t, errors.Is(err, New(CodeProcessStop, "")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInvalidState, CodeOf(New(CodeInvalidState, "busy")))
	assert.Equal(t, CodeSystem, CodeOf(errors.New("unknown")))
}

func TestAsError(t *testing.T) {
	coded := New(CodeCacheClear, "evict failed")
	assert.Same(t, coded, AsError(fmt.Errorf("outer: %w", coded)))

	plain := errors.New("disk full")
	converted := AsError(plain)
	require.NotNil(t, converted)
	assert.Equal(t, CodeSystem, converted.Code)
	assert.ErrorIs(t, converted, plain)
}

func TestWithDetails(t *testing.T) {
	err := New(CodeProcessTerminated, "emulator exited").
		WithDetails(map[string]any{"exitCode": 1, "processId": 1234})
	assert.Equal(t, 1, err.Details["exitCode"])
}
