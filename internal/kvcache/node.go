package kvcache

// Node is one contiguous segment of cached context. A node's full history
// is the concatenation of every segment on the path from the root down to
// the node itself, so branching from a shared prefix never copies tokens.
//
// Nodes are immutable after construction: the token and logit slices are
// never modified and the parent pointer never changes. The refcount is
// owned by the Registry and guarded by its mutex.
type Node struct {
	tokens []uint32
	logits []float32
	parent *Node

	// Assigned by Registry.Insert; guarded by the registry mutex.
	id   Handle
	refs int64
}

// NewNode builds an unregistered node holding one segment. The node takes
// ownership of tokens and logits; callers must not mutate them afterwards.
// parent is the node that carries the preceding history, or nil when the
// segment starts at the empty history.
func NewNode(tokens []uint32, logits []float32, parent *Node) *Node {
	return &Node{tokens: tokens, logits: logits, parent: parent}
}

// ID returns the handle assigned at registration, or RootHandle if the
// node was never inserted.
func (n *Node) ID() Handle { return n.id }

// Tokens returns the token IDs appended by this segment alone. The slice
// must not be mutated; sliced nodes share backing arrays with their source.
func (n *Node) Tokens() []uint32 { return n.tokens }

// Logits returns the logits produced when this segment was ingested. Nodes
// created by slicing carry no logits.
func (n *Node) Logits() []float32 { return n.logits }

// Parent returns the node holding the preceding history.
func (n *Node) Parent() *Node { return n.parent }

// Len returns the number of tokens in this segment alone.
func (n *Node) Len() int { return len(n.tokens) }

// HistoryLen returns the total token count from the root to this node
// without materializing the sequence.
func (n *Node) HistoryLen() int {
	total := 0
	for cur := n; cur != nil; cur = cur.parent {
		total += len(cur.tokens)
	}
	return total
}

// History reconstructs the full token sequence by walking the parent chain
// and laying segments out oldest-first. The walk relies only on structural
// parent pointers, so it succeeds even when ancestors have been released
// from the registry.
func (n *Node) History() []uint32 {
	out := make([]uint32, n.HistoryLen())
	i := len(out)
	for cur := n; cur != nil; cur = cur.parent {
		i -= len(cur.tokens)
		copy(out[i:], cur.tokens)
	}
	return out
}
