package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/samcharles93/arbor/internal/api"
	"github.com/samcharles93/arbor/internal/engine"
	"github.com/samcharles93/arbor/internal/metrics"
	"github.com/samcharles93/arbor/internal/version"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		rateBurst   int64
		maxRetained int64
		prefixBlock int64
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Float64Flag{
			Name:        "rate-limit",
			Usage:       "completion requests per second (0 = unlimited)",
			Destination: &rateLimit,
		},
		&cli.Int64Flag{
			Name:        "rate-burst",
			Usage:       "completion request burst size",
			Value:       4,
			Destination: &rateBurst,
		},
		&cli.Int64Flag{
			Name:        "max-retained",
			Usage:       "completed prompts kept resolvable for reuse",
			Value:       128,
			Destination: &maxRetained,
		},
		&cli.Int64Flag{
			Name:        "prefix-block",
			Usage:       "prefix index granularity in tokens",
			Value:       16,
			Destination: &prefixBlock,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the cache tree and completions REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, LoadConfig(), &addr, &rateLimit, &rateBurst, &maxRetained, &prefixBlock)
			log := newLogger()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			resolvedPath, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
			}

			reg := prometheus.NewRegistry()
			prom := metrics.New(reg, "arbor", nil)

			eng := engine.New(engine.Options{Logger: log, Metrics: prom})
			defer func() { _ = eng.Close() }()
			if err := eng.LoadModel(backendName, resolvedPath); err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}

			server, err := api.NewServer(api.Options{
				Logger:      log,
				Engine:      eng,
				RateLimit:   rate.Limit(rateLimit),
				RateBurst:   int(rateBurst),
				MaxRetained: int(maxRetained),
				PrefixBlock: int(prefixBlock),
				Observer:    prom,
				Gatherer:    reg,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: configure server: %v", err), 1)
			}
			defer server.Close()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "version", version.String(), "address", addr, "backend", eng.BackendName())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			err = sc.Start(ctx, e)
			if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("server stopped")
			return nil
		},
	}
}
