package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/samcharles93/arbor/internal/logger"
)

const (
	Stub = "stub"
	ONNX = "onnx"
	Auto = "auto"
)

// Backend computes next-token logits over a token sequence. Backends are
// stateless with respect to cache topology: every Forward call receives
// the full reconstructed history, so branching stays the caller's concern.
type Backend interface {
	Name() string
	VocabSize() int
	// Forward returns the logits for the last position after processing
	// history followed by tokens. The returned slice holds VocabSize
	// values and is owned by the caller. Calls with distinct histories
	// must be safe concurrently; whether calls sharing a history are is
	// backend-specific.
	Forward(ctx context.Context, history, tokens []uint32) ([]float32, error)
	Close() error
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Stub, ONNX, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, stub, or onnx)", backend)
	}
}

// Open constructs the named backend over the model at path. Auto picks the
// onnx backend when this build carries it and a model path was given, and
// falls back to the stub otherwise.
func Open(name, path string, log logger.Logger) (Backend, error) {
	name, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	if name == Auto {
		if onnxEnabled && path != "" {
			name = ONNX
		} else {
			name = Stub
		}
	}
	switch name {
	case Stub:
		return NewStub(path), nil
	case ONNX:
		return newONNX(path, log)
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
