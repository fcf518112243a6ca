// Package generation calls the chat model with bounded time and exactly one
// retry for transient failures.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/prompt"
	"github.com/embedchat/embedchat/internal/session"
)

// Sentinel errors classifying generation failures. Check with errors.Is().
var (
	// ErrTimeout indicates the model did not answer within the deadline.
	ErrTimeout = errors.New("generation timed out")

	// ErrRateLimited indicates the provider rejected the call for quota.
	ErrRateLimited = errors.New("generation rate limited")

	// ErrUpstream indicates a transient provider failure that survived the
	// retry.
	ErrUpstream = errors.New("generation upstream failure")

	// ErrInvalidResponse indicates the model returned no usable text.
	ErrInvalidResponse = errors.New("generation returned no text")
)

// transientPatterns groups provider error substrings by category, matched
// case-insensitively. Genkit and the provider SDKs expose no typed errors
// for these, so substring classification is the only option.
var transientPatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

// Config tunes the generation client.
type Config struct {
	// Timeout bounds each model call. Default: 30s.
	Timeout time.Duration

	// RetryBackoff is the pause before the single retry. Default: 500ms.
	RetryBackoff time.Duration

	// RequestsPerSecond gates model calls; zero disables the limiter.
	RequestsPerSecond float64
}

// Client generates chat responses.
type Client struct {
	g       *genkit.Genkit
	model   ai.Model
	limiter *rate.Limiter
	logger  log.Logger
	cfg     Config
}

// New creates a generation client for the given model.
func New(g *genkit.Genkit, model ai.Model, cfg Config, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{g: g, model: model, limiter: limiter, logger: logger, cfg: cfg}
}

// Generate produces the model's reply for an assembled prompt. A transient
// provider failure is retried exactly once after a short backoff; every
// other failure surfaces immediately, classified by the sentinel errors.
func (c *Client) Generate(ctx context.Context, p prompt.Prompt) (string, error) {
	msgs := buildMessages(p)

	text, err := c.attempt(ctx, msgs)
	if err == nil {
		return text, nil
	}
	// A timed-out attempt already spent the full budget; retrying would
	// double the turn's latency bound. Only provider-side transient failures
	// get the one retry.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrInvalidResponse) || !transient(err) {
		return "", classify(err)
	}

	c.logger.Warn("generation failed, retrying once", "error", err)
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case <-time.After(c.cfg.RetryBackoff):
	}

	text, retryErr := c.attempt(ctx, msgs)
	if retryErr != nil {
		return "", classify(retryErr)
	}
	return text, nil
}

func (c *Client) attempt(ctx context.Context, msgs []*ai.Message) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModel(c.model),
		ai.WithMessages(msgs...),
	)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrInvalidResponse
	}
	c.logger.Debug("generation complete", "elapsed", time.Since(start), "chars", len(text))
	return text, nil
}

func buildMessages(p prompt.Prompt) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(p.History)+2)
	if p.System != "" {
		msgs = append(msgs, ai.NewSystemTextMessage(p.System))
	}
	for _, m := range p.History {
		switch m.Role {
		case session.RoleAssistant:
			msgs = append(msgs, ai.NewModelTextMessage(m.Content))
		default:
			msgs = append(msgs, ai.NewUserTextMessage(m.Content))
		}
	}
	msgs = append(msgs, ai.NewUserTextMessage(p.User))
	return msgs
}

// transient reports whether err looks like a provider failure worth one
// retry. Deadline expiry is not transient; the caller's time budget is gone.
func transient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range transientPatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// classify maps a raw failure onto the package's sentinel errors, keeping
// the original error in the chain.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrInvalidResponse):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "quota exceeded", "429"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case containsAny(msg, "timeout", "deadline"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case containsAny(msg, "500", "502", "503", "504", "unavailable", "connection reset", "temporary"):
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	default:
		return fmt.Errorf("generating response: %w", err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
