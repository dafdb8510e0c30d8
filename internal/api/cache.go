package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/arbor/internal/engine"
	"github.com/samcharles93/arbor/internal/kvcache"
)

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	logits := make([]float32, s.engine.VocabSize())
	h, err := s.engine.Forward(c.Request().Context(), kvcache.Handle(req.Base), req.Tokens, logits)
	s.ops.ObserveOp("forward", engine.StatusOf(err).String())
	if err != nil {
		return writeEngineError(c, err)
	}

	resp := ForwardResponse{Handle: uint64(h), Status: int32(engine.StatusOK)}
	if req.ReturnLogits {
		resp.Logits = logits
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSlice(c *echo.Context) error {
	req, err := decodeJSON[SliceRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	h, err := s.engine.Slice(kvcache.Handle(req.Handle), req.Keep)
	s.ops.ObserveOp("slice", engine.StatusOf(err).String())
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, SliceResponse{Handle: uint64(h), Status: int32(engine.StatusOK)})
}

func (s *Server) handleCacheGet(c *echo.Context) error {
	h, err := parseHandle(c.Param("handle"))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	history, err := s.engine.History(h)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, CacheInfoResponse{
		Handle:  uint64(h),
		History: history,
		Len:     len(history),
	})
}

// handleCacheDelete releases the caller's claim. Freeing an unknown handle is
// a no-op, so the route is idempotent.
func (s *Server) handleCacheDelete(c *echo.Context) error {
	h, err := parseHandle(c.Param("handle"))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	s.engine.Free(h)
	s.ops.ObserveOp("free", engine.StatusOK.String())
	return c.NoContent(http.StatusNoContent)
}

func parseHandle(raw string) (kvcache.Handle, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("handle %q is not a number", raw)
	}
	return kvcache.Handle(v), nil
}
