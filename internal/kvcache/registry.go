package kvcache

import (
	"errors"
	"sync"
)

// ErrHandleNotFound is returned when a handle does not resolve to a
// registered node. A handle stops resolving once its external refcount
// reaches zero, even while children keep the node itself alive.
var ErrHandleNotFound = errors.New("kvcache: handle not found")

// Handle identifies a registered cache node. Handles are drawn from a
// monotonic counter and are never reused, so a stale handle can only miss;
// it can never alias a newer node.
type Handle uint64

// RootHandle is the reserved handle of the synthetic empty history. It
// always resolves, carries no tokens, and is unaffected by Release.
const RootHandle Handle = 0

// Options configures a Registry.
type Options struct {
	// Metrics receives lifecycle events. Nil means NoopMetrics.
	Metrics Metrics
}

// Registry maps handles to cache nodes and owns their external refcounts.
//
// Resolvability and memory lifetime are deliberately decoupled: releasing a
// handle to zero only removes the map entry, while structural parent
// pointers keep ancestor segments reachable for history reconstruction.
// Each Registry owns a private root node, so independent engines never
// share state.
type Registry struct {
	mu    sync.Mutex
	nodes map[Handle]*Node
	last  uint64 // last assigned handle value
	root  *Node

	metrics Metrics
}

// New returns an empty registry.
func New(opts Options) *Registry {
	m := opts.Metrics
	if m == nil {
		m = NoopMetrics{}
	}
	return &Registry{
		nodes:   make(map[Handle]*Node),
		root:    &Node{},
		metrics: m,
	}
}

// Insert registers n under a fresh handle with an external refcount of 1,
// the creating caller's claim. n must not already be registered.
func (r *Registry) Insert(n *Node) Handle {
	r.mu.Lock()
	r.last++
	h := Handle(r.last)
	n.id = h
	n.refs = 1
	r.nodes[h] = n
	size := len(r.nodes)
	r.mu.Unlock()

	r.metrics.NodeInserted()
	r.metrics.SetNodes(size)
	return h
}

// Resolve returns the node registered under h. RootHandle resolves to the
// registry's synthetic root. Unknown and released handles return
// ErrHandleNotFound, including handles whose node is still structurally
// alive through a child.
func (r *Registry) Resolve(h Handle) (*Node, error) {
	if h == RootHandle {
		return r.root, nil
	}
	r.mu.Lock()
	n, ok := r.nodes[h]
	r.mu.Unlock()
	if !ok {
		r.metrics.ResolveMiss()
		return nil, ErrHandleNotFound
	}
	r.metrics.ResolveHit()
	return n, nil
}

// Retain resolves h and increments its refcount in one critical section,
// so the handle cannot be released between the lookup and the claim.
// Retaining the root succeeds without counting. Unknown handles fail with
// ErrHandleNotFound rather than being silently ignored.
func (r *Registry) Retain(h Handle) (*Node, error) {
	if h == RootHandle {
		return r.root, nil
	}
	r.mu.Lock()
	n, ok := r.nodes[h]
	if ok {
		n.refs++
	}
	r.mu.Unlock()
	if !ok {
		r.metrics.ResolveMiss()
		return nil, ErrHandleNotFound
	}
	r.metrics.ResolveHit()
	return n, nil
}

// RetainNode increments n's refcount if the registry still maps n's handle
// to this exact node, reporting whether it did. Callers that reached n by
// walking the structural tree use this to claim the handle without racing
// a concurrent Release; when it reports false the node is alive only
// structurally and its handle must not be handed out.
func (r *Registry) RetainNode(n *Node) bool {
	if n == nil {
		return false
	}
	if n == r.root {
		return true
	}
	r.mu.Lock()
	cur, ok := r.nodes[n.id]
	if ok && cur == n {
		n.refs++
	}
	r.mu.Unlock()
	return ok && cur == n
}

// Release decrements h's refcount and erases the map entry when it reaches
// zero. Releasing the root, an unknown handle, or an already released
// handle is a no-op, which makes double-free safe. Erasure never cascades:
// children of an erased node still reconstruct their full history through
// the structural parent pointer.
func (r *Registry) Release(h Handle) {
	if h == RootHandle {
		return
	}
	r.mu.Lock()
	n, ok := r.nodes[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	n.refs--
	if n.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.nodes, h)
	size := len(r.nodes)
	r.mu.Unlock()

	r.metrics.NodeErased()
	r.metrics.SetNodes(size)
}

// Len reports the number of registered nodes, excluding the root.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// Root returns the synthetic empty-history node owned by this registry.
func (r *Registry) Root() *Node { return r.root }
