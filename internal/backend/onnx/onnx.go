//go:build onnx

package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/arbor/internal/logger"
)

var (
	initOnce sync.Once
	initErr  error
)

// ensureRuntime initializes the process-wide onnxruntime environment. The
// environment stays alive for the life of the process; sessions come and
// go underneath it.
func ensureRuntime() error {
	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// Model runs next-token inference through an ONNX Runtime session. The
// exported graph must take token IDs as int64 with shape [1, seq] and emit
// logits with the vocabulary on the last axis.
type Model struct {
	log     logger.Logger
	path    string
	session *ort.DynamicAdvancedSession
	input   string
	output  string
	vocab   int
}

// New opens the ONNX model at path.
func New(path string, log logger.Logger) (*Model, error) {
	if log == nil {
		log = logger.Default()
	}
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no usable inputs or outputs", path)
	}
	m := &Model{
		log:    log,
		path:   path,
		input:  inputs[0].Name,
		output: outputs[0].Name,
	}
	if dims := outputs[0].Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
		m.vocab = int(dims[len(dims)-1])
	}
	session, err := ort.NewDynamicAdvancedSession(path, []string{m.input}, []string{m.output}, nil)
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", path, err)
	}
	m.session = session
	if m.vocab == 0 {
		// Dynamic output shape; probe with a single token to learn it.
		logits, err := m.run([]int64{0})
		if err != nil {
			_ = session.Destroy()
			return nil, fmt.Errorf("probe vocabulary: %w", err)
		}
		m.vocab = len(logits)
	}
	log.Info("onnx model loaded", "path", path, "vocab", m.vocab, "input", m.input, "output", m.output)
	return m, nil
}

func (m *Model) Name() string { return "onnx" }

func (m *Model) VocabSize() int { return m.vocab }

func (m *Model) Forward(ctx context.Context, history, tokens []uint32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(history)+len(tokens))
	for _, t := range history {
		ids = append(ids, int64(t))
	}
	for _, t := range tokens {
		ids = append(ids, int64(t))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty sequence")
	}
	return m.run(ids)
}

// run executes the session over ids and returns the logits for the final
// sequence position.
func (m *Model) run(ids []int64) ([]float32, error) {
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return nil, fmt.Errorf("build input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
		return nil, fmt.Errorf("output %s is not a float32 tensor", m.output)
	}
	defer out.Destroy()

	data := out.GetData()
	shape := out.GetShape()
	last := 0
	if len(shape) > 0 {
		last = int(shape[len(shape)-1])
	}
	if last <= 0 || len(data) < last {
		return nil, fmt.Errorf("malformed logits shape %v", shape)
	}
	logits := make([]float32, last)
	copy(logits, data[len(data)-last:])
	return logits, nil
}

func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
