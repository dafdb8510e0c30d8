package logits

import (
	"math"
	"math/rand"
	"sort"
)

// Config controls sampling behaviour. Zero values select the defaults
// applied by NewSampler.
type Config struct {
	Seed          int64
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

// Sampler draws token IDs from logit vectors. Scratch buffers persist
// between calls, so a Sampler is not safe for concurrent use; give each
// generation loop its own.
type Sampler struct {
	cfg    Config
	rng    *rand.Rand
	greedy bool

	ids   []int     // shortlist token ids, best first
	vals  []float32 // temperature-scaled logits, parallel to ids
	probs []float64 // shortlist probabilities, parallel to ids

	mark  []uint32 // per-token epoch marks for the repeat window
	epoch uint32
}

// NewSampler returns a Sampler over cfg with house defaults: top-k 40,
// top-p off, repeat window 64. Temperature <= 0 selects argmax decoding.
func NewSampler(cfg Config) *Sampler {
	greedy := cfg.Temperature <= 0
	if greedy {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed)), greedy: greedy}
}

// Sample draws one token id from logits. recent is the already emitted
// sequence; distinct tokens inside the repeat window are penalized in
// place before the draw. Greedy configurations return the argmax.
func (s *Sampler) Sample(logits []float32, recent []uint32) int {
	s.penalize(logits, recent)

	if s.greedy || (s.cfg.TopK == 1 && s.cfg.TopP >= 1 && s.cfg.Temperature == 1) {
		return argmax(logits)
	}

	s.shortlist(logits)
	if len(s.ids) == 0 {
		return 0
	}
	s.softmax()
	if s.cfg.MinP > 0 {
		s.filterMinP()
	}

	limit := len(s.probs)
	if s.cfg.TopP < 1 {
		var cum float64
		for i, p := range s.probs {
			cum += p
			if float32(cum) >= s.cfg.TopP {
				limit = i + 1
				break
			}
		}
	}

	r := s.rng.Float64()
	var cum float64
	for i := 0; i < limit; i++ {
		cum += s.probs[i]
		if r <= cum {
			return s.ids[i]
		}
	}
	return s.ids[limit-1]
}

// penalize dampens every distinct token in the repeat window. Positive
// logits are divided by the penalty and negative ones multiplied, pushing
// both toward rejection.
func (s *Sampler) penalize(logits []float32, recent []uint32) {
	if s.cfg.RepeatPenalty <= 1 || len(recent) == 0 {
		return
	}
	if len(s.mark) < len(logits) {
		s.mark = make([]uint32, len(logits))
	}
	s.epoch++
	if s.epoch == 0 { // wrapped; every stale mark would match
		clear(s.mark)
		s.epoch = 1
	}
	window := recent[max(len(recent)-s.cfg.RepeatLastN, 0):]
	for _, tok := range window {
		id := int(tok)
		if id >= len(logits) || s.mark[id] == s.epoch {
			continue
		}
		s.mark[id] = s.epoch
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}

// shortlist fills s.ids and s.vals with the top-k candidates by
// temperature-scaled logit, best first. O(V log k) with k at most TopK.
func (s *Sampler) shortlist(logits []float32) {
	k := min(s.cfg.TopK, len(logits))
	if cap(s.ids) < k {
		s.ids = make([]int, 0, k)
	}
	if cap(s.vals) < k {
		s.vals = make([]float32, 0, k)
	}
	ids, vals := s.ids[:0], s.vals[:0]

	invTemp := 1 / s.cfg.Temperature
	for i, l := range logits {
		v := l * invTemp
		pos := sort.Search(len(vals), func(j int) bool { return vals[j] < v })
		if pos >= k {
			continue
		}
		if len(vals) < k {
			ids = append(ids, 0)
			vals = append(vals, 0)
		}
		copy(ids[pos+1:], ids[pos:])
		copy(vals[pos+1:], vals[pos:])
		ids[pos] = i
		vals[pos] = v
	}
	s.ids, s.vals = ids, vals
}

// softmax converts s.vals into probabilities in s.probs with the usual
// max shift for stability. The shortlist is sorted, so the max is vals[0].
func (s *Sampler) softmax() {
	if cap(s.probs) < len(s.vals) {
		s.probs = make([]float64, len(s.vals))
	}
	s.probs = s.probs[:len(s.vals)]

	best := s.vals[0]
	var sum float64
	for i, v := range s.vals {
		e := math.Exp(float64(v - best))
		s.probs[i] = e
		sum += e
	}
	if sum <= 0 {
		// Degenerate logits; keep only the best candidate.
		for i := range s.probs {
			s.probs[i] = 0
		}
		s.probs[0] = 1
		return
	}
	for i := range s.probs {
		s.probs[i] /= sum
	}
}

// filterMinP drops candidates whose probability falls below MinP times the
// best one and renormalizes the survivors, so the top-p cut still sees a
// distribution summing to 1.
func (s *Sampler) filterMinP() {
	threshold := s.probs[0] * float64(s.cfg.MinP)
	keep := 0
	var kept float64
	for i, p := range s.probs {
		if p >= threshold {
			s.probs[keep] = p
			s.ids[keep] = s.ids[i]
			kept += p
			keep++
		}
	}
	if keep == len(s.probs) {
		return
	}
	s.probs = s.probs[:keep]
	s.ids = s.ids[:keep]
	if kept > 0 {
		for i := range s.probs {
			s.probs[i] /= kept
		}
	}
}

// argmax returns the index of the largest value. Panics on empty input.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("logits: argmax of empty vector")
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
