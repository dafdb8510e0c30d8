package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/samcharles93/arbor/internal/engine"
	"github.com/samcharles93/arbor/internal/logger"
	"github.com/samcharles93/arbor/internal/prefix"
	"github.com/samcharles93/arbor/internal/tokenizer"
)

// OpObserver receives one event per engine operation served over HTTP.
type OpObserver interface {
	ObserveOp(op, status string)
}

type noopObserver struct{}

func (noopObserver) ObserveOp(string, string) {}

type Server struct {
	log     logger.Logger
	engine  *engine.Engine
	tok     *tokenizer.Tokenizer
	index   *prefix.Index
	store   *handleStore
	limiter *rate.Limiter
	ops     OpObserver
	metrics http.Handler
	clock   func() time.Time
	started time.Time
}

type Options struct {
	Logger logger.Logger
	Engine *engine.Engine

	// RateLimit caps completion requests per second; zero means unlimited.
	RateLimit rate.Limit
	RateBurst int

	// MaxRetained bounds how many completed generations stay resolvable for
	// prompt reuse.
	MaxRetained int

	// PrefixBlock is the prefix index granularity in tokens.
	PrefixBlock int

	Observer OpObserver
	Gatherer prometheus.Gatherer
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("api: engine is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	tok := tokenizer.New()
	if opts.Engine.Loaded() && opts.Engine.VocabSize() < tok.VocabSize() {
		return nil, fmt.Errorf("api: model vocabulary %d is smaller than the tokenizer's %d", opts.Engine.VocabSize(), tok.VocabSize())
	}
	ops := opts.Observer
	if ops == nil {
		ops = noopObserver{}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	now := time.Now()
	return &Server{
		log:     log,
		engine:  opts.Engine,
		tok:     tok,
		index:   prefix.NewIndex(opts.PrefixBlock),
		store:   newHandleStore(opts.MaxRetained),
		limiter: limiter,
		ops:     ops,
		metrics: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		clock:   time.Now,
		started: now,
	}, nil
}

func (s *Server) Register(e *echo.Echo) {
	// Raw cache tree access
	e.POST("/v1/cache/forward", s.handleForward)
	e.POST("/v1/cache/slice", s.handleSlice)
	e.GET("/v1/cache/:handle", s.handleCacheGet)
	e.DELETE("/v1/cache/:handle", s.handleCacheDelete)

	// Generation
	e.POST("/v1/completions", s.rateLimited(s.handleCompletions))

	// Operability
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
}

// Close releases every cache claim the server retained for prompt reuse.
func (s *Server) Close() {
	for _, h := range s.store.Drain() {
		s.index.Remove(h)
		s.engine.Free(h)
	}
}

func (s *Server) rateLimited(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow() {
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "completion rate limit exceeded", "", "")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	model := s.engine.ModelPath()
	if model == "" {
		model = s.engine.BackendName()
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: int64(s.clock().Sub(s.started).Seconds()),
		Model:  model,
		Nodes:  s.engine.Nodes(),
	})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}
