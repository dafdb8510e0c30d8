package api

// ForwardRequest extends the cache node identified by Base with Tokens.
type ForwardRequest struct {
	Base         uint64   `json:"base"`
	Tokens       []uint32 `json:"tokens"`
	ReturnLogits bool     `json:"return_logits,omitempty"`
}

type ForwardResponse struct {
	Handle uint64    `json:"handle"`
	Logits []float32 `json:"logits,omitempty"`
	Status int32     `json:"status"`
}

// SliceRequest asks for a handle whose history is the first Keep tokens of
// the named node's history.
type SliceRequest struct {
	Handle uint64 `json:"handle"`
	Keep   int    `json:"keep"`
}

type SliceResponse struct {
	Handle uint64 `json:"handle"`
	Status int32  `json:"status"`
}

type CacheInfoResponse struct {
	Handle  uint64   `json:"handle"`
	History []uint32 `json:"history"`
	Len     int      `json:"len"`
}

// CompletionRequest is the OpenAI-flavored generation request. Exactly one of
// Prompt and Messages must be set.
type CompletionRequest struct {
	Model         string        `json:"model"`
	Prompt        string        `json:"prompt,omitempty"`
	Messages      []ChatMessage `json:"messages,omitempty"`
	MaxTokens     *int          `json:"max_tokens,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	MinP          *float64      `json:"min_p,omitempty"`
	N             *int          `json:"n,omitempty"`
	Seed          *int64        `json:"seed,omitempty"`
	Stream        *bool         `json:"stream,omitempty"`
	RepeatPenalty *float64      `json:"repeat_penalty,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type CompletionChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

type CompletionUsage struct {
	PromptTokens        int                  `json:"prompt_tokens"`
	CompletionTokens    int                  `json:"completion_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	PromptTokensDetails *PromptTokensDetails `json:"prompt_tokens_details,omitempty"`
}

// PromptTokensDetails reports how much of the prompt was answered from the
// cache tree rather than recomputed.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// CompletionResponse doubles as the streaming chunk shape; chunks carry the
// object "text_completion.chunk" and omit usage.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *CompletionUsage   `json:"usage,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime_seconds"`
	Model  string `json:"model"`
	Nodes  int    `json:"nodes"`
}
