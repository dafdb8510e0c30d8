package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/arbor/internal/engine"
)

// ResponseError is the error payload embedded in every non-2xx body.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeEngineError maps an engine failure onto its HTTP status. The code
// field carries the engine's numeric status so wire clients can switch on it
// without parsing messages.
func writeEngineError(c *echo.Context, err error) error {
	status := httpStatusFor(err)
	errType := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		errType = "server_error"
	}
	code := strconv.Itoa(int(engine.StatusOf(err)))
	return writeError(c, status, errType, err.Error(), "", code)
}

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidHandle):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTokens):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrOutOfMemory):
		return http.StatusInsufficientStorage
	case errors.Is(err, engine.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrComputeFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
