package llm

import (
	"context"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Args holds the template arguments for one prompt in a batch.
type Args map[string]any

// Response is the outcome of a single prompt in a batch. A failed request
// carries its error here and an empty Raw; it never aborts sibling requests.
type Response struct {
	Raw string
	Err error
}

// Ok reports whether the request produced a usable response.
func (r Response) Ok() bool {
	return r.Err == nil && r.Raw != ""
}

// EngineConfig controls batching and rate limiting.
// MaxRequests prompts are fired concurrently per run; the shared token bucket
// refills MaxRequests tokens per Window, so run k effectively waits k windows
// behind run 0. Debug skips rate limiting entirely (offline mode).
type EngineConfig struct {
	MaxRequests int
	Window      time.Duration
	Debug       bool
}

// Usage describes one completed model request for tracking purposes.
type Usage struct {
	Model       string
	Operation   string
	PromptChars int
	Duration    time.Duration
	Success     bool
	Error       string
}

// Observer receives a Usage record per model request.
type Observer interface {
	Observe(u Usage)
}

// Engine issues structured prompt batches against a Client, preserving input
// order in its results regardless of network completion order.
//
// The limiter is shared across all Query calls on the same Engine, so two
// concurrent classification requests draw from one token bucket keyed to the
// engine's model rather than sleeping on independent schedules.
type Engine struct {
	client   Client
	cfg      EngineConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
	observer Observer
}

// NewEngine creates an Engine around the given client. A zero MaxRequests
// defaults to 300 per 10s window, matching typical per-model API quotas.
func NewEngine(client Client, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 300
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	limit := rate.Limit(float64(cfg.MaxRequests) / cfg.Window.Seconds())
	return &Engine{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.MaxRequests),
		logger:  logger.With("system", "llm"),
	}
}

// SetObserver registers a usage observer. Pass nil to disable tracking.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Client returns the underlying model client.
func (e *Engine) Client() Client {
	return e.client
}

// Debug reports whether the engine operates in offline mode.
func (e *Engine) Debug() bool {
	return e.cfg.Debug
}

// Query renders tmpl once per Args entry and issues the prompts in
// rate-limited runs of MaxRequests. Results are returned in input order; a
// request that fails yields a Response with Err set for that element only.
func (e *Engine) Query(
	ctx context.Context,
	operation string,
	tmpl *template.Template,
	args []Args,
) []Response {
	responses := make([]Response, len(args))

	for start := 0; start < len(args); start += e.cfg.MaxRequests {
		end := min(start+e.cfg.MaxRequests, len(args))

		if !e.cfg.Debug {
			if err := e.limiter.WaitN(ctx, end-start); err != nil {
				for i := start; i < len(args); i++ {
					responses[i] = Response{Err: err}
				}
				return responses
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				responses[i] = e.complete(gctx, operation, tmpl, args[i])
				return nil
			})
		}
		g.Wait()
	}

	e.logger.Debug(
		"query batch complete",
		"operation", operation,
		"requests", len(args),
		"model", e.client.Model(),
	)

	return responses
}

func (e *Engine) complete(
	ctx context.Context,
	operation string,
	tmpl *template.Template,
	args Args,
) Response {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, map[string]any(args)); err != nil {
		e.logger.Warn("prompt render failed", "operation", operation, "error", err)
		return Response{Err: err}
	}
	prompt := sb.String()

	start := time.Now()
	raw, err := e.client.Complete(ctx, prompt)
	duration := time.Since(start)

	usage := Usage{
		Model:       e.client.Model(),
		Operation:   operation,
		PromptChars: len(prompt),
		Duration:    duration,
		Success:     err == nil,
	}

	if err != nil {
		usage.Error = err.Error()
		e.logger.Warn(
			"model request failed",
			"operation", operation,
			"model", e.client.Model(),
			"error", err,
		)
	}

	if e.observer != nil {
		e.observer.Observe(usage)
	}

	return Response{Raw: raw, Err: err}
}
