package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/loqalabs/loqa-lessons/internal/config"
)

// Client collects streamed chunks into one answer. Calls share a rate
// limiter and each one is bounded by the configured timeout.
type Client struct {
	gen      Generator
	defaults Request
	system   string
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

type ClientOption func(*Client)

// WithSystem sets the system prompt sent with every completion.
func WithSystem(system string) ClientOption {
	return func(c *Client) { c.system = system }
}

func NewClient(cfg config.LLMConfig, gen Generator, logger *slog.Logger, opts ...ClientOption) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		gen:      gen,
		defaults: OptionsFromConfig(cfg, ""),
		timeout:  time.Duration(cfg.TimeoutMS) * time.Millisecond,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With(slog.String("component", "llm")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs prompt to completion. A blank answer is ErrEmptyResponse.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}

	req := c.defaults
	req.Prompt = prompt
	req.System = c.system
	req.JSON = wantsJSON(prompt)

	start := time.Now()
	var b strings.Builder
	tokens := 0
	err := c.gen.Generate(ctx, req, func(chunk Chunk) error {
		b.WriteString(chunk.Content)
		if chunk.Done {
			tokens = chunk.Tokens
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	text := strings.TrimSpace(b.String())
	c.logger.Debug("completion finished",
		slog.Int("prompt_chars", len(prompt)),
		slog.Int("response_chars", len(text)),
		slog.Int("tokens", tokens),
		slog.Duration("latency", time.Since(start)))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// wantsJSON reports whether prompt asks for a JSON answer.
func wantsJSON(prompt string) bool {
	return strings.Contains(prompt, "JSON")
}
