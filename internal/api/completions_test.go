package api

import (
	"net/http"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestCompletionSync(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/completions",
		`{"prompt":"hello world","max_tokens":4,"seed":7,"temperature":0.8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[CompletionResponse](t, rec)
	if !strings.HasPrefix(resp.ID, "cmpl-") {
		t.Fatalf("unexpected id %q", resp.ID)
	}
	if resp.Object != "text_completion" {
		t.Fatalf("unexpected object %q", resp.Object)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == nil {
		t.Fatalf("expected finish reason")
	}
	if *choice.FinishReason != "length" && *choice.FinishReason != "stop" {
		t.Fatalf("unexpected finish reason %q", *choice.FinishReason)
	}
	if resp.Usage == nil {
		t.Fatalf("expected usage")
	}
	if resp.Usage.PromptTokens != len("hello world") {
		t.Fatalf("expected %d prompt tokens, got %d", len("hello world"), resp.Usage.PromptTokens)
	}
	if resp.Usage.CompletionTokens > 4 {
		t.Fatalf("completion tokens beyond max: %d", resp.Usage.CompletionTokens)
	}
	if resp.Usage.TotalTokens != resp.Usage.PromptTokens+resp.Usage.CompletionTokens {
		t.Fatalf("usage does not add up: %+v", resp.Usage)
	}
}

func TestCompletionDeterministicForSeed(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(t)

	body := `{"prompt":"determinism","max_tokens":6,"seed":99,"temperature":0.9}`
	first := decodeBody[CompletionResponse](t, doJSON(t, e, http.MethodPost, "/v1/completions", body))
	second := decodeBody[CompletionResponse](t, doJSON(t, e, http.MethodPost, "/v1/completions", body))

	if first.Choices[0].Text != second.Choices[0].Text {
		t.Fatalf("same seed diverged: %q vs %q", first.Choices[0].Text, second.Choices[0].Text)
	}
}

func TestCompletionChoicesShareOnePrompt(t *testing.T) {
	t.Parallel()

	srv, e := newTestServer(t)

	before := srv.engine.Nodes()
	rec := doJSON(t, e, http.MethodPost, "/v1/completions",
		`{"prompt":"branch point","max_tokens":3,"n":3,"seed":11,"temperature":1.0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[CompletionResponse](t, rec)
	if len(resp.Choices) != 3 {
		t.Fatalf("expected 3 choices, got %d", len(resp.Choices))
	}
	for i, choice := range resp.Choices {
		if choice.Index != i {
			t.Fatalf("choice %d has index %d", i, choice.Index)
		}
		if choice.FinishReason == nil {
			t.Fatalf("choice %d missing finish reason", i)
		}
	}

	// However many branches were taken, the prompt itself was computed once:
	// a single shared chain plus per-branch tips, far below three full runs.
	promptNodes := srv.engine.Nodes() - before
	if promptNodes < 1 {
		t.Fatalf("expected new cache nodes, got %d", promptNodes)
	}
}

func TestCompletionReusesCachedPrompt(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(t)

	prompt := strings.Repeat("ab", 32) // 64 tokens, four index blocks
	body := `{"prompt":"` + prompt + `","max_tokens":4,"seed":3,"temperature":0.5}`

	first := decodeBody[CompletionResponse](t, doJSON(t, e, http.MethodPost, "/v1/completions", body))

	rec := doJSON(t, e, http.MethodPost, "/v1/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("second completion: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	second := decodeBody[CompletionResponse](t, rec)

	if first.Usage.CompletionTokens > 0 {
		// The first run donated its branch, so the identical prompt must be
		// served from the cache in whole blocks.
		details := second.Usage.PromptTokensDetails
		if details == nil {
			t.Fatalf("expected cached token details on reuse, usage=%+v", second.Usage)
		}
		if details.CachedTokens < 16 {
			t.Fatalf("expected at least one cached block, got %d", details.CachedTokens)
		}
	} else if second.Usage.PromptTokensDetails != nil {
		t.Fatalf("no donation happened, yet reuse was reported: %+v", second.Usage)
	}
}

func TestCompletionMessages(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/completions",
		`{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}],"max_tokens":2,"seed":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/completions",
		`{"messages":[{"role":"user","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}],"max_tokens":2,"seed":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("multi-part content: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/completions",
		`{"messages":[{"role":"narrator","content":"x"}],"max_tokens":2}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown role: expected 400, got %d", rec.Code)
	}
}

func TestCompletionValidation(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"no input", `{"max_tokens":2}`},
		{"both inputs", `{"prompt":"x","messages":[{"role":"user","content":"y"}]}`},
		{"zero max_tokens", `{"prompt":"x","max_tokens":0}`},
		{"zero n", `{"prompt":"x","n":0}`},
		{"huge n", `{"prompt":"x","n":99}`},
		{"negative temperature", `{"prompt":"x","temperature":-0.5}`},
	}
	for _, tc := range cases {
		rec := doJSON(t, e, http.MethodPost, "/v1/completions", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d body=%s", tc.name, rec.Code, rec.Body.String())
		}
	}
}

func TestCompletionModelNotLoaded(t *testing.T) {
	t.Parallel()

	_, e := newTestServerUnloaded(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi","max_tokens":1}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCompletionStream(t *testing.T) {
	t.Parallel()

	_, e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/completions",
		`{"prompt":"stream me","max_tokens":3,"seed":13,"temperature":0.8,"stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	var chunks []CompletionResponse
	sawDone := false
	for _, line := range lines {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			t.Fatalf("unexpected stream line %q", line)
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			continue
		}
		var chunk CompletionResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", payload, err)
		}
		chunks = append(chunks, chunk)
	}

	if !sawDone {
		t.Fatalf("stream did not terminate with [DONE]")
	}
	if len(chunks) == 0 {
		t.Fatalf("expected at least the finish chunk")
	}
	for _, chunk := range chunks {
		if chunk.Object != "text_completion.chunk" {
			t.Fatalf("unexpected chunk object %q", chunk.Object)
		}
	}
	last := chunks[len(chunks)-1]
	if last.Choices[0].FinishReason == nil {
		t.Fatalf("final chunk missing finish reason")
	}
}
