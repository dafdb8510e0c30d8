//go:build !onnx

package backend

import (
	"errors"

	"github.com/samcharles93/arbor/internal/logger"
)

const onnxEnabled = false

var errONNXUnavailable = errors.New("onnx backend is not available in this build")

func Has(name string) bool {
	return name == Stub
}

func newONNX(path string, log logger.Logger) (Backend, error) {
	return nil, errONNXUnavailable
}
