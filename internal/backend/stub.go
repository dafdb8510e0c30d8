package backend

import (
	"context"
	"hash/fnv"
	"math/rand"
)

// DefaultVocab is the stub backend's vocabulary size.
const DefaultVocab = 512

const stubHidden = 64

// stubBackend is a tiny deterministic scorer used when no real model is
// available: an embedding table feeds a leaky linear recurrence over the
// sequence, and a projection reads the final state out to vocab logits.
// Identical (history, tokens) inputs produce identical logits across
// processes, and splitting a sequence between history and tokens never
// changes the result. All mutable state is per call, so the stub is safe
// under any concurrency.
type stubBackend struct {
	vocab  int
	hidden int
	emb    []float32 // vocab x hidden
	w      []float32 // hidden x vocab
}

// NewStub returns the deterministic stub backend. The seed string only
// picks the weights; any value, including "", is valid.
func NewStub(seed string) Backend {
	return newStub(seed, DefaultVocab, stubHidden)
}

func newStub(seed string, vocab, hidden int) *stubBackend {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	b := &stubBackend{
		vocab:  vocab,
		hidden: hidden,
		emb:    make([]float32, vocab*hidden),
		w:      make([]float32, hidden*vocab),
	}
	for i := range b.emb {
		b.emb[i] = rng.Float32()*2 - 1
	}
	for i := range b.w {
		b.w[i] = rng.Float32()*2 - 1
	}
	return b
}

func (b *stubBackend) Name() string { return Stub }

func (b *stubBackend) VocabSize() int { return b.vocab }

func (b *stubBackend) Forward(ctx context.Context, history, tokens []uint32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state := make([]float32, b.hidden)
	b.absorb(state, history)
	b.absorb(state, tokens)

	logits := make([]float32, b.vocab)
	for j := 0; j < b.vocab; j++ {
		var sum float32
		for i := 0; i < b.hidden; i++ {
			sum += state[i] * b.w[i*b.vocab+j]
		}
		logits[j] = sum
	}
	return logits, nil
}

// absorb folds tokens into the running state. The decay keeps early tokens
// influential without letting long sequences overflow.
func (b *stubBackend) absorb(state []float32, tokens []uint32) {
	for _, tok := range tokens {
		row := int(tok%uint32(b.vocab)) * b.hidden
		for i := 0; i < b.hidden; i++ {
			state[i] = 0.5*state[i] + b.emb[row+i]
		}
	}
}

func (b *stubBackend) Close() error { return nil }
