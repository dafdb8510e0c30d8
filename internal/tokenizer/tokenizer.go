// Package tokenizer provides the deterministic byte-level tokenizer used by
// the serving layer. Byte values occupy the ID range past a small block of
// special tokens, so any string round-trips exactly and no vocabulary file is
// required.
package tokenizer

import (
	"errors"
	"fmt"
)

// Special token IDs. Byte values start immediately after this block.
const (
	BOS uint32 = iota
	EOS
	RoleSystem
	RoleUser
	RoleAssistant

	numSpecials
)

const byteOffset = numSpecials

var (
	ErrUnknownRole = errors.New("tokenizer: unknown role")
	ErrNoMessages  = errors.New("tokenizer: no messages")
)

// Message is a single chat turn.
type Message struct {
	Role    string
	Content string
}

type Tokenizer struct{}

func New() *Tokenizer {
	return &Tokenizer{}
}

// Encode converts text to token IDs, one per byte.
func (t *Tokenizer) Encode(text string) []uint32 {
	tokens := make([]uint32, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = byteOffset + uint32(text[i])
	}
	return tokens
}

// Decode converts token IDs back to text. Special tokens and IDs outside the
// byte range are skipped.
func (t *Tokenizer) Decode(tokens []uint32) string {
	buf := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		if tok < byteOffset || tok >= byteOffset+256 {
			continue
		}
		buf = append(buf, byte(tok-byteOffset))
	}
	return string(buf)
}

// EncodeChat renders a conversation as a token sequence: BOS, then a role
// marker, the message bytes and a newline per message, and finally the
// assistant marker that cues generation.
func (t *Tokenizer) EncodeChat(messages []Message) ([]uint32, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	out := make([]uint32, 0, 16)
	out = append(out, BOS)
	for _, msg := range messages {
		role, err := roleToken(msg.Role)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
		out = append(out, t.Encode(msg.Content)...)
		out = append(out, byteOffset+'\n')
	}
	out = append(out, RoleAssistant)
	return out, nil
}

// VocabSize returns the number of distinct IDs the tokenizer can emit. The
// attached model's vocabulary must be at least this large.
func (t *Tokenizer) VocabSize() int {
	return 256 + int(numSpecials)
}

func roleToken(role string) (uint32, error) {
	switch role {
	case "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
}
