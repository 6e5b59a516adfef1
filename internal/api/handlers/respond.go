package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/demovault/retro-agent/internal/agenterr"
	"github.com/demovault/retro-agent/pkg/types"
)

// statusForCode maps agent error codes to HTTP status codes.
func statusForCode(code string) int {
	switch code {
	case agenterr.CodeInvalidInput, agenterr.CodeInvalidConfig:
		return http.StatusBadRequest
	case agenterr.CodeInvalidOperation, agenterr.CodeInvalidState, agenterr.CodeProcessExists:
		return http.StatusConflict
	case agenterr.CodeBinaryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	coded := agenterr.AsError(err)
	c.JSON(statusForError(err), types.ErrorResponse{
		Status:  "ERROR",
		Code:    coded.Code,
		Message: coded.Message,
	})
}

// statusForError maps the innermost coded error in the chain, so a
// LAUNCH_PREPARATION_FAILED wrapping an INVALID_CONFIG still answers 400.
func statusForError(err error) int {
	status := http.StatusInternalServerError
	for err != nil {
		var e *agenterr.Error
		if !errors.As(err, &e) {
			break
		}
		status = statusForCode(e.Code)
		err = e.Unwrap()
	}
	return status
}

// FlexBool accepts JSON booleans as well as "true"/"false" strings, which
// older clients send.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		s := strings.Trim(string(data), `"`)
		*b = FlexBool(strings.EqualFold(s, "true"))
		return nil
	}
	*b = FlexBool(string(data) == "true")
	return nil
}
