package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/arbor/internal/engine"
	"github.com/samcharles93/arbor/internal/kvcache"
	"github.com/samcharles93/arbor/internal/logits"
	"github.com/samcharles93/arbor/internal/tokenizer"
)

const (
	defaultMaxTokens = 16
	maxChoices       = 8
)

type genParams struct {
	maxTokens     int
	n             int
	seed          int64
	temperature   float32
	topK          int
	topP          float32
	minP          float32
	repeatPenalty float32
}

type choiceResult struct {
	text   string
	tokens []uint32
	finish string
	handle kvcache.Handle
}

func (s *Server) handleCompletions(c *echo.Context) error {
	req, err := decodeJSON[CompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	tokens, err := s.promptTokens(req)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	p, err := requestParams(req, s.clock().UnixNano())
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	completionID := "cmpl-" + uuid.NewString()
	created := s.clock().Unix()
	model := req.Model
	if model == "" {
		model = "arbor"
	}

	if req.Stream != nil && *req.Stream {
		return s.streamCompletion(c, tokens, p, completionID, created, model)
	}
	return s.syncCompletion(c, tokens, p, completionID, created, model)
}

func (s *Server) syncCompletion(c *echo.Context, tokens []uint32, p genParams, id string, created int64, model string) error {
	results, cached, err := s.generate(c.Request().Context(), tokens, p, nil)
	s.ops.ObserveOp("completion", engine.StatusOf(err).String())
	if err != nil {
		return writeEngineError(c, err)
	}

	choices := make([]CompletionChoice, len(results))
	completionTokens := 0
	for i, r := range results {
		finish := r.finish
		choices[i] = CompletionChoice{Index: i, Text: r.text, FinishReason: &finish}
		completionTokens += len(r.tokens)
	}
	usage := &CompletionUsage{
		PromptTokens:     len(tokens),
		CompletionTokens: completionTokens,
		TotalTokens:      len(tokens) + completionTokens,
	}
	if cached > 0 {
		usage.PromptTokensDetails = &PromptTokensDetails{CachedTokens: cached}
	}

	return c.JSON(http.StatusOK, CompletionResponse{
		ID:      id,
		Object:  "text_completion",
		Created: created,
		Model:   model,
		Choices: choices,
		Usage:   usage,
	})
}

func (s *Server) streamCompletion(c *echo.Context, tokens []uint32, p genParams, id string, created int64, model string) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(http.Flusher)
	if !ok {
		return writeBadRequest(c, "streaming unsupported")
	}

	emit := func(choice int, piece string) {
		chunk := CompletionResponse{
			ID:      id,
			Object:  "text_completion.chunk",
			Created: created,
			Model:   model,
			Choices: []CompletionChoice{{Index: choice, Text: piece}},
		}
		_ = sendSSEChunk(res, chunk)
		flusher.Flush()
	}

	results, _, err := s.generate(c.Request().Context(), tokens, p, emit)
	s.ops.ObserveOp("completion", engine.StatusOf(err).String())
	if err != nil {
		// Headers are out; a best-effort error chunk is all we can do.
		_ = sendSSEChunk(res, map[string]any{"error": err.Error()})
		flusher.Flush()
	} else {
		for i, r := range results {
			finish := r.finish
			chunk := CompletionResponse{
				ID:      id,
				Object:  "text_completion.chunk",
				Created: created,
				Model:   model,
				Choices: []CompletionChoice{{Index: i, FinishReason: &finish}},
			}
			_ = sendSSEChunk(res, chunk)
			flusher.Flush()
		}
	}

	_, _ = fmt.Fprint(res, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

// generate runs the sample/forward loop for every requested choice. All
// choices branch from the same prompt node; intermediate handles are released
// as each branch advances, so only branch tips stay claimed.
func (s *Server) generate(ctx context.Context, tokens []uint32, p genParams, emit func(choice int, piece string)) ([]choiceResult, int, error) {
	base, cached := s.reusePrompt(tokens)

	buf := make([]float32, s.engine.VocabSize())
	h, err := s.engine.Forward(ctx, base, tokens[cached:], buf)
	s.ops.ObserveOp("forward", engine.StatusOf(err).String())
	if base != kvcache.RootHandle {
		s.engine.Free(base)
	}
	if err != nil {
		return nil, cached, err
	}
	base = h

	baseLogits := slices.Clone(buf)
	results := make([]choiceResult, 0, p.n)
	for i := 0; i < p.n; i++ {
		smp := logits.NewSampler(logits.Config{
			Seed:          p.seed + int64(i),
			Temperature:   p.temperature,
			TopK:          p.topK,
			TopP:          p.topP,
			MinP:          p.minP,
			RepeatPenalty: p.repeatPenalty,
		})
		copy(buf, baseLogits)

		recent := slices.Clone(tokens)
		cur := base
		finish := "length"
		var text strings.Builder
		var gen []uint32

		for step := 0; step < p.maxTokens; step++ {
			tok := uint32(smp.Sample(buf, recent))
			if tok == tokenizer.EOS {
				finish = "stop"
				break
			}
			next, err := s.engine.Forward(ctx, cur, []uint32{tok}, buf)
			s.ops.ObserveOp("forward", engine.StatusOf(err).String())
			if err != nil {
				if cur != base {
					s.engine.Free(cur)
				}
				s.freeResults(results, base)
				return nil, cached, err
			}
			if cur != base {
				s.engine.Free(cur)
			}
			cur = next

			gen = append(gen, tok)
			recent = append(recent, tok)
			piece := s.tok.Decode([]uint32{tok})
			text.WriteString(piece)
			if emit != nil {
				emit(i, piece)
			}
		}

		results = append(results, choiceResult{
			text:   text.String(),
			tokens: gen,
			finish: finish,
			handle: cur,
		})
	}

	s.retainResults(tokens, results, base)
	return results, cached, nil
}

// reusePrompt consults the prefix index for a cached prefix of tokens and
// returns a base handle plus how many tokens it covers. At least one prompt
// token is always left to forward so every generation starts from fresh
// logits.
func (s *Server) reusePrompt(tokens []uint32) (kvcache.Handle, int) {
	hit, n := s.index.Lookup(tokens)
	keep := min(n, len(tokens)-1)
	if keep <= 0 {
		return kvcache.RootHandle, 0
	}
	h, err := s.engine.Slice(hit, keep)
	s.ops.ObserveOp("slice", engine.StatusOf(err).String())
	if err != nil {
		// The boundary owner was freed out from under the index, likely via
		// the raw cache API. Drop its boundaries and recompute from the root.
		s.index.Remove(hit)
		return kvcache.RootHandle, 0
	}
	return h, keep
}

// retainResults donates the first branch that extends the prompt to the
// prefix index, releases the rest, and drops the shared claim on the prompt
// node.
func (s *Server) retainResults(prompt []uint32, results []choiceResult, base kvcache.Handle) {
	donated := false
	for _, r := range results {
		if r.handle == base {
			continue
		}
		if donated {
			s.engine.Free(r.handle)
			continue
		}
		full := append(slices.Clone(prompt), r.tokens...)
		s.index.Insert(full, r.handle)
		if evicted, ok := s.store.Add(r.handle); ok {
			s.index.Remove(evicted)
			s.engine.Free(evicted)
		}
		donated = true
	}
	s.engine.Free(base)
}

func (s *Server) freeResults(results []choiceResult, base kvcache.Handle) {
	for _, r := range results {
		if r.handle != base {
			s.engine.Free(r.handle)
		}
	}
	s.engine.Free(base)
}

func (s *Server) promptTokens(req CompletionRequest) ([]uint32, error) {
	switch {
	case req.Prompt != "" && len(req.Messages) > 0:
		return nil, fmt.Errorf("prompt and messages are mutually exclusive")
	case req.Prompt != "":
		return s.tok.Encode(req.Prompt), nil
	case len(req.Messages) > 0:
		msgs, err := coerceMessages(req.Messages)
		if err != nil {
			return nil, err
		}
		return s.tok.EncodeChat(msgs)
	default:
		return nil, fmt.Errorf("prompt or messages is required")
	}
}

func coerceMessages(in []ChatMessage) ([]tokenizer.Message, error) {
	out := make([]tokenizer.Message, 0, len(in))
	for _, m := range in {
		msg := tokenizer.Message{Role: m.Role}
		switch content := m.Content.(type) {
		case string:
			msg.Content = content
		case nil:
			msg.Content = ""
		case []any:
			// Multi-part content; only text parts carry weight here.
			var parts []string
			for _, part := range content {
				pm, ok := part.(map[string]any)
				if !ok {
					continue
				}
				if typ, _ := pm["type"].(string); typ == "text" {
					if text, ok := pm["text"].(string); ok {
						parts = append(parts, text)
					}
				}
			}
			msg.Content = strings.Join(parts, "\n")
		default:
			return nil, fmt.Errorf("message content: unsupported type")
		}
		out = append(out, msg)
	}
	return out, nil
}

func requestParams(req CompletionRequest, fallbackSeed int64) (genParams, error) {
	p := genParams{
		maxTokens:   defaultMaxTokens,
		n:           1,
		seed:        fallbackSeed,
		temperature: 1.0,
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens < 1 {
			return p, fmt.Errorf("max_tokens must be at least 1")
		}
		p.maxTokens = *req.MaxTokens
	}
	if req.N != nil {
		if *req.N < 1 || *req.N > maxChoices {
			return p, fmt.Errorf("n must be between 1 and %d", maxChoices)
		}
		p.n = *req.N
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 {
			return p, fmt.Errorf("temperature must not be negative")
		}
		p.temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		p.topP = float32(*req.TopP)
	}
	if req.TopK != nil {
		p.topK = *req.TopK
	}
	if req.MinP != nil {
		p.minP = float32(*req.MinP)
	}
	if req.RepeatPenalty != nil {
		p.repeatPenalty = float32(*req.RepeatPenalty)
	}
	if req.Seed != nil {
		p.seed = *req.Seed
	}
	return p, nil
}
