package engine

import (
	"errors"
	"fmt"

	"github.com/samcharles93/arbor/internal/kvcache"
)

// Status is the wire-level result code reported by the HTTP layer and by
// clients that mirror the engine's error surface numerically.
type Status int32

const (
	StatusOK             Status = 0
	StatusInvalidHandle  Status = -1
	StatusOutOfMemory    Status = -2
	StatusInvalidTokens  Status = -3
	StatusComputeFailed  Status = -4
	StatusModelNotLoaded Status = -5
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidHandle:
		return "invalid_handle"
	case StatusOutOfMemory:
		return "out_of_memory"
	case StatusInvalidTokens:
		return "invalid_tokens"
	case StatusComputeFailed:
		return "computation_failed"
	case StatusModelNotLoaded:
		return "model_not_loaded"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidHandle  = errors.New("invalid cache handle")
	ErrOutOfMemory    = errors.New("insufficient output capacity")
	ErrInvalidTokens  = errors.New("invalid tokens")
	ErrComputeFailed  = errors.New("computation failed")
	ErrModelNotLoaded = errors.New("model not loaded")
)

type invalidHandleError struct {
	handle kvcache.Handle
}

func (e invalidHandleError) Error() string {
	return fmt.Sprintf("cache handle %d is not registered", e.handle)
}

func (e invalidHandleError) Unwrap() error {
	return ErrInvalidHandle
}

func newInvalidHandle(h kvcache.Handle) error {
	return invalidHandleError{handle: h}
}

type invalidTokensError struct {
	msg string
}

func (e invalidTokensError) Error() string {
	return e.msg
}

func (e invalidTokensError) Unwrap() error {
	return ErrInvalidTokens
}

func newInvalidTokens(format string, args ...any) error {
	return invalidTokensError{msg: fmt.Sprintf(format, args...)}
}

type outOfMemoryError struct {
	have, need int
}

func (e outOfMemoryError) Error() string {
	return fmt.Sprintf("output buffer holds %d values, vocabulary needs %d", e.have, e.need)
}

func (e outOfMemoryError) Unwrap() error {
	return ErrOutOfMemory
}

func newOutOfMemory(have, need int) error {
	return outOfMemoryError{have: have, need: need}
}

type computeError struct {
	err error
}

func (e computeError) Error() string {
	return "computation failed: " + e.err.Error()
}

// Unwrap exposes both the sentinel and the backend's own error so callers
// can match either.
func (e computeError) Unwrap() []error {
	return []error{ErrComputeFailed, e.err}
}

func newComputeFailed(err error) error {
	return computeError{err: err}
}

// StatusOf maps err to its wire status. nil maps to StatusOK; errors that
// carry no known sentinel map to StatusComputeFailed.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidHandle):
		return StatusInvalidHandle
	case errors.Is(err, ErrOutOfMemory):
		return StatusOutOfMemory
	case errors.Is(err, ErrInvalidTokens):
		return StatusInvalidTokens
	case errors.Is(err, ErrModelNotLoaded):
		return StatusModelNotLoaded
	default:
		return StatusComputeFailed
	}
}
