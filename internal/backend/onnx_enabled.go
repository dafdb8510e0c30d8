//go:build onnx

package backend

import (
	"github.com/samcharles93/arbor/internal/backend/onnx"
	"github.com/samcharles93/arbor/internal/logger"
)

const onnxEnabled = true

func Has(name string) bool {
	switch name {
	case ONNX:
		return true
	default:
		return name == Stub
	}
}

func newONNX(path string, log logger.Logger) (Backend, error) {
	return onnx.New(path, log)
}
