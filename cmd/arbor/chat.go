package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/arbor/internal/engine"
	"github.com/samcharles93/arbor/internal/kvcache"
	"github.com/samcharles93/arbor/internal/logits"
	"github.com/samcharles93/arbor/internal/tokenizer"
)

func chatCmd() *cli.Command {
	var (
		system        string
		maxTokens     int64
		temp          float64
		topK          int64
		topP          float64
		minP          float64
		repeatPenalty float64
		repeatLastN   int64
		seed          int64
		showStats     bool
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "optional system prompt",
			Destination: &system,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum tokens generated per reply",
			Value:       256,
			Destination: &maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature",
			Value:       0.8,
			Destination: &temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling parameter",
			Value:       40,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "top-p sampling parameter",
			Value:       0.95,
			Destination: &topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Aliases:     []string{"min_p", "minp"},
			Usage:       "min-p sampling parameter (0 = disabled)",
			Value:       0.05,
			Destination: &minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       1.1,
			Destination: &repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Aliases:     []string{"repeat_last_n"},
			Usage:       "last n tokens to penalize",
			Value:       64,
			Destination: &repeatLastN,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed (default -1 = time-based)",
			Value:       -1,
			Destination: &seed,
		},
		&cli.BoolFlag{
			Name:        "stats",
			Usage:       "print per-reply throughput",
			Value:       true,
			Destination: &showStats,
		},
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat that keeps the conversation cached between turns",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyChatConfig(cmd, LoadConfig(), &temp, &topK, &topP, &minP, &repeatPenalty, &maxTokens, &seed)
			log := newLogger()

			if maxTokens < 1 {
				return cli.Exit("error: max-tokens must be at least 1", 1)
			}

			resolvedPath, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
			}

			eng := engine.New(engine.Options{Logger: log})
			defer func() { _ = eng.Close() }()
			if err := eng.LoadModel(backendName, resolvedPath); err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}

			tok := tokenizer.New()
			if eng.VocabSize() < tok.VocabSize() {
				return cli.Exit(fmt.Sprintf(
					"error: model vocabulary %d is smaller than the tokenizer's %d",
					eng.VocabSize(), tok.VocabSize()), 1)
			}

			if seed == -1 {
				seed = time.Now().UnixNano()
			}
			session := &chatSession{
				engine: eng,
				tok:    tok,
				sampler: logits.NewSampler(logits.Config{
					Seed:          seed,
					Temperature:   float32(temp),
					TopK:          int(topK),
					TopP:          float32(topP),
					MinP:          float32(minP),
					RepeatPenalty: float32(repeatPenalty),
					RepeatLastN:   int(repeatLastN),
				}),
				system:    system,
				maxTokens: int(maxTokens),
				cur:       kvcache.RootHandle,
				buf:       make([]float32, eng.VocabSize()),
				out:       os.Stdout,
			}
			defer session.reset()

			fmt.Fprintln(os.Stderr, "Interactive mode. /reset clears the conversation, /exit quits.")
			for {
				input, err := readLine("> ")
				if err != nil {
					break
				}
				trimmed := strings.TrimSpace(input)
				switch trimmed {
				case "":
					continue
				case "/exit":
					return nil
				case "/reset":
					session.reset()
					fmt.Fprintln(os.Stderr, "conversation cleared")
					continue
				}

				start := time.Now()
				generated, err := session.reply(ctx, input)
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
					continue
				}
				if showStats {
					elapsed := time.Since(start)
					fmt.Fprintf(os.Stderr, "Stats: %.2f TPS (%d tokens in %s)\n",
						float64(generated)/elapsed.Seconds(), generated, elapsed.Round(time.Millisecond))
				}
			}
			return nil
		},
	}
}

// chatSession is one conversation: a cache handle whose history is the
// entire dialogue so far, plus the flat token history for the repetition
// penalty window.
type chatSession struct {
	engine    *engine.Engine
	tok       *tokenizer.Tokenizer
	sampler   *logits.Sampler
	system    string
	maxTokens int
	out       io.Writer

	cur  kvcache.Handle
	hist []uint32
	buf  []float32
}

// reply extends the cached conversation with the user's message, streams
// the generated text to out, and reports how many tokens were generated.
// Each turn forwards only the new tokens; the dialogue prefix is never
// re-run.
func (cs *chatSession) reply(ctx context.Context, input string) (int, error) {
	turn, err := cs.turnTokens(input)
	if err != nil {
		return 0, err
	}

	next, err := cs.engine.Forward(ctx, cs.cur, turn, cs.buf)
	if err != nil {
		return 0, err
	}
	cs.advance(next)
	cs.hist = append(cs.hist, turn...)

	generated := 0
	for generated < cs.maxTokens {
		tokID := uint32(cs.sampler.Sample(cs.buf, cs.hist))
		if tokID == tokenizer.EOS {
			break
		}
		fmt.Fprint(cs.out, cs.tok.Decode([]uint32{tokID}))
		next, err := cs.engine.Forward(ctx, cs.cur, []uint32{tokID}, cs.buf)
		if err != nil {
			fmt.Fprintln(cs.out)
			return generated, err
		}
		cs.advance(next)
		cs.hist = append(cs.hist, tokID)
		generated++
	}
	fmt.Fprintln(cs.out)
	return generated, nil
}

// turnTokens renders the next stretch of the conversation. The first turn
// carries the chat preamble; later turns close the previous reply with a
// newline and append only the new user message and the assistant cue.
func (cs *chatSession) turnTokens(input string) ([]uint32, error) {
	if cs.cur == kvcache.RootHandle {
		msgs := make([]tokenizer.Message, 0, 2)
		if cs.system != "" {
			msgs = append(msgs, tokenizer.Message{Role: "system", Content: cs.system})
		}
		msgs = append(msgs, tokenizer.Message{Role: "user", Content: input})
		return cs.tok.EncodeChat(msgs)
	}
	turn := cs.tok.Encode("\n")
	turn = append(turn, tokenizer.RoleUser)
	turn = append(turn, cs.tok.Encode(input)...)
	turn = append(turn, cs.tok.Encode("\n")...)
	turn = append(turn, tokenizer.RoleAssistant)
	return turn, nil
}

// advance moves the conversation claim to next. The released node stays
// alive through its child's claim; only this session's claim moves.
func (cs *chatSession) advance(next kvcache.Handle) {
	if cs.cur != kvcache.RootHandle {
		cs.engine.Free(cs.cur)
	}
	cs.cur = next
}

// reset frees the conversation handle and starts over.
func (cs *chatSession) reset() {
	if cs.cur != kvcache.RootHandle {
		cs.engine.Free(cs.cur)
		cs.cur = kvcache.RootHandle
	}
	cs.hist = cs.hist[:0]
}
