package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/arbor/internal/backend"
	"github.com/samcharles93/arbor/internal/kvcache"
	"github.com/samcharles93/arbor/internal/logger"
)

// Engine owns a cache registry and a compute backend and exposes the three
// cache operations: Forward (extend), Slice, and Free. Every method is safe
// for concurrent use. The backend never runs under the registry lock, so
// unrelated requests do not serialize on cache bookkeeping.
//
// The registry allows concurrent Forward calls that share a base handle;
// whether the backend tolerates that is its own documented property, and
// callers that branch from one base concurrently must consult it.
type Engine struct {
	log      logger.Logger
	registry *kvcache.Registry

	mu        sync.RWMutex
	backend   backend.Backend
	modelPath string
}

// Options configures an Engine.
type Options struct {
	// Logger used for lifecycle events. Nil means logger.Default().
	Logger logger.Logger
	// Metrics receives registry lifecycle events. Nil disables them.
	Metrics kvcache.Metrics
}

// New returns an engine with no model loaded. Cache operations fail with
// ErrModelNotLoaded until LoadModel or Attach succeeds.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		log:      log,
		registry: kvcache.New(kvcache.Options{Metrics: opts.Metrics}),
	}
}

// LoadModel opens the named backend over the model at path and makes it
// the engine's compute provider. Loading over a previous model closes the
// old backend; handles created under it remain valid, though their logits
// now come from the new model.
func (e *Engine) LoadModel(name, path string) error {
	b, err := backend.Open(name, path, e.log)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	e.attach(b, path)
	e.log.Info("model loaded", "backend", b.Name(), "path", path, "vocab", b.VocabSize())
	return nil
}

// Attach installs an already constructed backend, closing any previous one.
func (e *Engine) Attach(b backend.Backend) {
	e.attach(b, "")
}

func (e *Engine) attach(b backend.Backend, path string) {
	e.mu.Lock()
	old := e.backend
	e.backend = b
	e.modelPath = path
	e.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			e.log.Warn("closing replaced backend", "error", err)
		}
	}
}

// Forward runs the model over tokens appended to the history behind base
// and registers the result as a new child node with its own handle. The
// logits for the final position are stored on the node and copied into
// out, which must hold at least VocabSize values.
//
// A failed forward leaves no trace: nothing is inserted and the retain
// taken on base is rolled back.
func (e *Engine) Forward(ctx context.Context, base kvcache.Handle, tokens []uint32, out []float32) (kvcache.Handle, error) {
	e.mu.RLock()
	b := e.backend
	e.mu.RUnlock()
	if b == nil {
		return 0, ErrModelNotLoaded
	}

	vocab := b.VocabSize()
	if len(tokens) == 0 {
		return 0, newInvalidTokens("empty token sequence")
	}
	for i, tok := range tokens {
		if int(tok) >= vocab {
			return 0, newInvalidTokens("token %d at position %d is outside the vocabulary of %d", tok, i, vocab)
		}
	}
	if len(out) < vocab {
		return 0, newOutOfMemory(len(out), vocab)
	}

	parent, err := e.registry.Retain(base)
	if err != nil {
		return 0, newInvalidHandle(base)
	}

	logits, err := b.Forward(ctx, parent.History(), tokens)
	if err != nil {
		e.registry.Release(base)
		return 0, newComputeFailed(err)
	}

	h := e.registry.Insert(kvcache.NewNode(slices.Clone(tokens), logits, parent))
	copy(out, logits[:vocab])
	return h, nil
}

// Slice returns a handle whose history is exactly the first keep tokens of
// base's history, sharing every kept segment with the source. keep of 0
// yields RootHandle. When the boundary falls on an existing node edge that
// node's own handle is retained and returned; otherwise a thin node
// holding the kept portion of the straddling segment is registered,
// parented at that segment's parent so the prefix is represented once.
func (e *Engine) Slice(base kvcache.Handle, keep int) (kvcache.Handle, error) {
	src, err := e.registry.Resolve(base)
	if err != nil {
		return 0, newInvalidHandle(base)
	}
	total := src.HistoryLen()
	if keep < 0 || keep > total {
		return 0, newInvalidTokens("keep %d outside history of %d tokens", keep, total)
	}
	if keep == 0 {
		return kvcache.RootHandle, nil
	}

	// Walk up to the node whose segment covers position keep-1. Zero
	// length segments are skipped transparently.
	node, end := src, total
	for end-node.Len() >= keep {
		end -= node.Len()
		node = node.Parent()
	}

	if end == keep {
		// Exact edge: hand out the covering node's own handle when it
		// is still registered; otherwise register an empty node on top
		// of it so the caller gets a live handle with the same history.
		if e.registry.RetainNode(node) {
			return node.ID(), nil
		}
		return e.registry.Insert(kvcache.NewNode(nil, nil, node)), nil
	}

	start := end - node.Len()
	parent := node.Parent()
	// Claim the parent's handle if it is still registered; the structural
	// reference keeps it alive either way.
	e.registry.RetainNode(parent)
	return e.registry.Insert(kvcache.NewNode(node.Tokens()[:keep-start], nil, parent)), nil
}

// Free releases the caller's claim on h. Free is idempotent: the root, an
// unknown handle, and an already freed handle are silent no-ops. Freeing a
// node never invalidates descendants; they keep reconstructing their full
// history through structural references.
func (e *Engine) Free(h kvcache.Handle) {
	e.registry.Release(h)
}

// History returns the full token sequence behind h, oldest first.
// RootHandle yields an empty history.
func (e *Engine) History(h kvcache.Handle) ([]uint32, error) {
	n, err := e.registry.Resolve(h)
	if err != nil {
		return nil, newInvalidHandle(h)
	}
	return n.History(), nil
}

// Loaded reports whether a backend is attached.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backend != nil
}

// VocabSize returns the attached backend's vocabulary size, or 0 when no
// model is loaded.
func (e *Engine) VocabSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.backend == nil {
		return 0
	}
	return e.backend.VocabSize()
}

// BackendName returns the attached backend's name, or "" when no model is
// loaded.
func (e *Engine) BackendName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.backend == nil {
		return ""
	}
	return e.backend.Name()
}

// ModelPath returns the path given to LoadModel, or "" for attached
// backends and unloaded engines.
func (e *Engine) ModelPath() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modelPath
}

// Nodes reports how many cache nodes are currently registered.
func (e *Engine) Nodes() int {
	return e.registry.Len()
}

// Close detaches and closes the backend. Registered nodes simply become
// garbage once callers drop their handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	b := e.backend
	e.backend = nil
	e.modelPath = ""
	e.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}
