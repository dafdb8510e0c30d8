package kvcache

import (
	"errors"
	"slices"
	"testing"
)

func TestInsertAssignsIncreasingHandles(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	var handles []Handle
	for i := 0; i < 5; i++ {
		handles = append(handles, r.Insert(NewNode([]uint32{uint32(i)}, nil, nil)))
	}
	for i, h := range handles {
		if h == RootHandle {
			t.Fatalf("insert %d returned the root handle", i)
		}
		if i > 0 && h <= handles[i-1] {
			t.Fatalf("handle %d (=%d) not greater than predecessor %d", i, h, handles[i-1])
		}
	}
	if r.Len() != 5 {
		t.Fatalf("len = %d, want 5", r.Len())
	}
}

func TestRootAlwaysResolves(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	root, err := r.Resolve(RootHandle)
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if root != r.Root() {
		t.Fatalf("resolve root returned a different node")
	}
	if got := root.History(); len(got) != 0 {
		t.Fatalf("root history = %v, want empty", got)
	}

	// Releasing the root must never make it unresolvable.
	for i := 0; i < 3; i++ {
		r.Release(RootHandle)
	}
	if _, err := r.Resolve(RootHandle); err != nil {
		t.Fatalf("root unresolvable after releases: %v", err)
	}
	if n, err := r.Retain(RootHandle); err != nil || n != r.Root() {
		t.Fatalf("retain root = (%v, %v), want root", n, err)
	}
	if r.Len() != 0 {
		t.Fatalf("root counted in len: %d", r.Len())
	}
}

func TestResolveUnknownHandle(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	if _, err := r.Resolve(42); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("resolve unknown = %v, want ErrHandleNotFound", err)
	}
	if _, err := r.Retain(42); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("retain unknown = %v, want ErrHandleNotFound", err)
	}
}

func TestRetainExtendsLifetime(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	h := r.Insert(NewNode([]uint32{1}, nil, nil))

	if _, err := r.Retain(h); err != nil {
		t.Fatalf("retain: %v", err)
	}
	r.Release(h)
	if _, err := r.Resolve(h); err != nil {
		t.Fatalf("handle gone after releasing one of two claims: %v", err)
	}
	r.Release(h)
	if _, err := r.Resolve(h); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("handle still resolvable after final release: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	h := r.Insert(NewNode([]uint32{1}, nil, nil))
	r.Release(h)
	r.Release(h) // second free of the same handle is a no-op
	r.Release(999)
	if r.Len() != 0 {
		t.Fatalf("len = %d, want 0", r.Len())
	}
}

func TestHandlesNeverReused(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	first := r.Insert(NewNode([]uint32{1}, nil, nil))
	r.Release(first)
	second := r.Insert(NewNode([]uint32{2}, nil, nil))
	if second <= first {
		t.Fatalf("handle %d issued after releasing %d", second, first)
	}
	if _, err := r.Resolve(first); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("released handle resolves again: %v", err)
	}
}

func TestErasedParentStaysStructurallyAlive(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	parent := NewNode([]uint32{1, 2}, nil, r.Root())
	ph := r.Insert(parent)
	child := NewNode([]uint32{3}, nil, parent)
	r.Insert(child)

	r.Release(ph)
	if _, err := r.Resolve(ph); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("parent handle still resolvable: %v", err)
	}
	if got := child.History(); !slices.Equal(got, []uint32{1, 2, 3}) {
		t.Fatalf("child history after parent erase = %v, want [1 2 3]", got)
	}
}

func TestRetainNode(t *testing.T) {
	t.Parallel()

	r := New(Options{})
	n := NewNode([]uint32{1}, nil, nil)
	h := r.Insert(n)

	if !r.RetainNode(n) {
		t.Fatalf("retain of a registered node failed")
	}
	r.Release(h)
	r.Release(h)
	if _, err := r.Resolve(h); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("two claims needed two releases, got %v", err)
	}
	if r.RetainNode(n) {
		t.Fatalf("retain succeeded on an erased node")
	}
	if !r.RetainNode(r.Root()) {
		t.Fatalf("retain of the root failed")
	}
	if r.RetainNode(nil) {
		t.Fatalf("retain of nil succeeded")
	}
}

type countingMetrics struct {
	inserted, erased, hits, misses, nodes int
}

func (m *countingMetrics) NodeInserted() { m.inserted++ }
func (m *countingMetrics) NodeErased()   { m.erased++ }
func (m *countingMetrics) ResolveHit()   { m.hits++ }
func (m *countingMetrics) ResolveMiss()  { m.misses++ }
func (m *countingMetrics) SetNodes(n int) {
	m.nodes = n
}

func TestMetricsEvents(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	r := New(Options{Metrics: m})

	h := r.Insert(NewNode([]uint32{1}, nil, nil))
	if _, err := r.Resolve(h); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := r.Resolve(999); err == nil {
		t.Fatalf("resolve of unknown handle succeeded")
	}
	r.Release(h)

	if m.inserted != 1 || m.erased != 1 {
		t.Fatalf("inserted/erased = %d/%d, want 1/1", m.inserted, m.erased)
	}
	if m.hits != 1 || m.misses != 1 {
		t.Fatalf("hits/misses = %d/%d, want 1/1", m.hits, m.misses)
	}
	if m.nodes != 0 {
		t.Fatalf("final node gauge = %d, want 0", m.nodes)
	}
}
