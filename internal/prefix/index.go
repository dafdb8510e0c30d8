package prefix

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/samcharles93/arbor/internal/kvcache"
)

// DefaultBlockSize is the default token-block granularity of the index.
const DefaultBlockSize = 16

type digest [32]byte

type entry struct {
	handle kvcache.Handle
	n      int // tokens covered from the start of the history
}

// Index maps token-history prefixes to cache handles so a new request can
// resume from the longest previously computed prefix instead of running
// the model from scratch. Callers turn a hit (handle, n) into an exact
// base by slicing the handle down to n tokens.
//
// Histories are keyed at fixed block boundaries. Each block's digest
// chains over its predecessor's, so one digest identifies the whole
// prefix up to its boundary, not just the block contents. The index holds
// no claim on the handles it stores; a hit whose handle no longer
// resolves is simply a miss for the caller.
type Index struct {
	mu        sync.Mutex
	blockSize int
	entries   map[digest]entry
	byHandle  map[kvcache.Handle][]digest
}

// NewIndex returns an empty index. blockSize <= 0 selects
// DefaultBlockSize.
func NewIndex(blockSize int) *Index {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Index{
		blockSize: blockSize,
		entries:   make(map[digest]entry),
		byHandle:  make(map[kvcache.Handle][]digest),
	}
}

// BlockSize returns the token-block granularity.
func (ix *Index) BlockSize() int { return ix.blockSize }

// Insert records every full-block boundary of history as reachable
// through h. Boundaries already present keep their original handle; a
// prefix is equally reusable through any handle whose history covers it.
func (ix *Index) Insert(history []uint32, h kvcache.Handle) {
	if h == kvcache.RootHandle || len(history) < ix.blockSize {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var d digest
	for end := ix.blockSize; end <= len(history); end += ix.blockSize {
		d = chain(d, history[end-ix.blockSize:end])
		if _, exists := ix.entries[d]; exists {
			continue
		}
		ix.entries[d] = entry{handle: h, n: end}
		ix.byHandle[h] = append(ix.byHandle[h], d)
	}
}

// Lookup returns the handle covering the longest indexed full-block
// prefix of tokens, and that prefix's length. A zero handle and length
// mean no usable prefix is indexed.
func (ix *Index) Lookup(tokens []uint32) (kvcache.Handle, int) {
	if len(tokens) < ix.blockSize {
		return kvcache.RootHandle, 0
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var (
		d     digest
		found kvcache.Handle
		n     int
	)
	for end := ix.blockSize; end <= len(tokens); end += ix.blockSize {
		d = chain(d, tokens[end-ix.blockSize:end])
		// Boundaries can be removed individually, so a miss here does
		// not end the walk.
		if e, ok := ix.entries[d]; ok {
			found, n = e.handle, end
		}
	}
	return found, n
}

// Remove unindexes every boundary registered through h.
func (ix *Index) Remove(h kvcache.Handle) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, d := range ix.byHandle[h] {
		if ix.entries[d].handle == h {
			delete(ix.entries, d)
		}
	}
	delete(ix.byHandle, h)
}

// Handles returns the distinct handles currently indexed.
func (ix *Index) Handles() []kvcache.Handle {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]kvcache.Handle, 0, len(ix.byHandle))
	for h := range ix.byHandle {
		out = append(out, h)
	}
	return out
}

// Len returns the number of indexed block boundaries.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

// chain digests one block on top of the running prefix digest.
func chain(prev digest, block []uint32) digest {
	h := blake3.New()
	_, _ = h.Write(prev[:])
	var buf [4]byte
	for _, tok := range block {
		binary.LittleEndian.PutUint32(buf[:], tok)
		_, _ = h.Write(buf[:])
	}
	var d digest
	h.Sum(d[:0])
	return d
}
