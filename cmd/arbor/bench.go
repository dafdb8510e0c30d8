package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/arbor/internal/engine"
	"github.com/samcharles93/arbor/internal/kvcache"
)

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		duration   time.Duration
		workers    int64
		batch      int64
		depth      int64
		seed       int64
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.DurationFlag{
			Name:        "duration",
			Aliases:     []string{"d"},
			Usage:       "length of each run",
			Value:       2 * time.Second,
			Destination: &duration,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Aliases:     []string{"w"},
			Usage:       "concurrent cache branches (0 = GOMAXPROCS)",
			Destination: &workers,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Usage:       "tokens per forward",
			Value:       16,
			Destination: &batch,
		},
		&cli.Int64Flag{
			Name:        "depth",
			Usage:       "forwards between slices on each branch",
			Value:       8,
			Destination: &depth,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "workload RNG seed",
			Value:       42,
			Destination: &seed,
		},
	)

	return &cli.Command{
		Name:  "benchmark",
		Usage: "Run a concurrent forward/slice/free workload against the cache tree",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, LoadConfig())
			log := newLogger()

			if workers <= 0 {
				workers = int64(runtime.GOMAXPROCS(0))
			}
			if batch < 1 {
				return cli.Exit("error: batch must be at least 1", 1)
			}
			if depth < 1 {
				return cli.Exit("error: depth must be at least 1", 1)
			}

			resolvedPath, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
			}

			loadStart := time.Now()
			eng := engine.New(engine.Options{Logger: log})
			defer func() { _ = eng.Close() }()
			if err := eng.LoadModel(backendName, resolvedPath); err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			loadDuration := time.Since(loadStart)

			fmt.Println("=== Arbor Benchmark ===")
			if eng.ModelPath() != "" {
				fmt.Printf("Model:    %s\n", eng.ModelPath())
			}
			fmt.Printf("Backend:  %s\n", eng.BackendName())
			fmt.Printf("CPUs:     %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Load:     %s\n", loadDuration.Round(time.Millisecond))
			fmt.Printf("Workers:  %d\n", workers)
			fmt.Printf("Batch:    %d tokens\n", batch)
			fmt.Printf("Depth:    %d forwards per slice\n", depth)
			fmt.Printf("Runs:     %d x %s\n", benchRuns, duration)
			fmt.Println()

			bench := cacheBench{
				engine:  eng,
				workers: int(workers),
				batch:   int(batch),
				depth:   int(depth),
				seed:    seed,
			}

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := bench.run(ctx, duration); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			results := make([]benchResult, 0, benchRuns)
			for i := range int(benchRuns) {
				log.Info("benchmark run", "run", i+1)
				res, err := bench.run(ctx, duration)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				results = append(results, res)
			}

			fmt.Println("=== Results ===")
			fmt.Printf("%-6s %12s %12s %12s %10s %10s\n", "Run", "Forward/s", "Token/s", "Slice/s", "Nodes", "Duration")

			var sumFwd, sumTok, sumSlc float64
			for i, r := range results {
				secs := r.elapsed.Seconds()
				fwd := float64(r.forwards) / secs
				tok := float64(r.tokens) / secs
				slc := float64(r.slices) / secs
				fmt.Printf("%-6d %12.1f %12.1f %12.1f %10d %10s\n",
					i+1, fwd, tok, slc, r.nodes, r.elapsed.Round(time.Millisecond))
				sumFwd += fwd
				sumTok += tok
				sumSlc += slc
			}

			n := float64(len(results))
			fmt.Printf("\n%-6s %12.1f %12.1f %12.1f\n", "Avg", sumFwd/n, sumTok/n, sumSlc/n)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))

			return nil
		},
	}
}

// cacheBench drives concurrent branches against one engine. Each worker
// grows its own chain batch by batch and periodically slices it back to a
// random prefix, which covers the extend, slice, and free paths under
// contention.
type cacheBench struct {
	engine  *engine.Engine
	workers int
	batch   int
	depth   int
	seed    int64
}

type benchResult struct {
	forwards int64
	tokens   int64
	slices   int64
	nodes    int
	elapsed  time.Duration
}

func (b *cacheBench) run(ctx context.Context, d time.Duration) (benchResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var forwards, tokens, slices atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(runCtx)
	for w := range b.workers {
		rng := rand.New(rand.NewSource(b.seed + int64(w)))
		g.Go(func() error {
			vocab := b.engine.VocabSize()
			buf := make([]float32, vocab)
			step := make([]uint32, b.batch)
			cur := kvcache.RootHandle
			histLen := 0
			defer func() {
				if cur != kvcache.RootHandle {
					b.engine.Free(cur)
				}
			}()

			for gctx.Err() == nil {
				for i := range step {
					step[i] = uint32(rng.Intn(vocab))
				}
				next, err := b.engine.Forward(gctx, cur, step, buf)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
				if cur != kvcache.RootHandle {
					b.engine.Free(cur)
				}
				cur = next
				histLen += len(step)
				forwards.Add(1)
				tokens.Add(int64(len(step)))

				if histLen >= b.depth*b.batch {
					keep := rng.Intn(histLen)
					sliced, err := b.engine.Slice(cur, keep)
					if err != nil {
						return err
					}
					b.engine.Free(cur)
					cur = sliced
					histLen = keep
					slices.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}

	return benchResult{
		forwards: forwards.Load(),
		tokens:   tokens.Load(),
		slices:   slices.Load(),
		nodes:    b.engine.Nodes(),
		elapsed:  time.Since(start),
	}, nil
}
