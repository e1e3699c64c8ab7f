// Package llm implements the provider-neutral LLM Gateway (C3): a single
// Chat entry point fanning out to per-provider adapters, with prompt-cache
// shaping, max_tokens clamping, exponential-backoff retry on transient
// failures, and usage/cache accounting normalized across providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentcore/agentcore/internal/backoff"
	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/internal/ratelimit"
)

// Provider is implemented by each backend adapter (anthropic, openai, and
// OpenAI-compatible look-alikes such as dashscope/deepseek/volcengine/zhipu).
type Provider interface {
	Name() string
	MaxTokensCeiling(model string) int
	Chat(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (<-chan *ResponseChunk, error)
}

// CachePolicy controls provider-specific prompt-cache breakpoint shaping.
type CachePolicy struct {
	Enabled bool
	// BreakpointCount bounds how many cache_control markers are placed
	// (Anthropic allows up to 4; DeepSeek uses a single implicit prefix).
	BreakpointCount int
}

// Request is the provider-neutral chat request.
type Request struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
	Stream      bool
	Cache       CachePolicy
}

// ToolDefinition is the LLM-facing tool schema (name/description/JSON-Schema
// parameters), produced by the Tool Registry (C12) for each call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage carries normalized token accounting, including cache hit/miss
// bookkeeping where the provider reports it.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheWriteTokens    int
	CacheHit            bool
	EstimatedSavingsUSD float64
}

// Response is a complete, non-streamed completion.
type Response struct {
	Content          string
	ReasoningContent string
	ToolCalls        []models.ToolCall
	Usage            Usage
	Model            string
	Provider         string
}

// ResponseChunk is one increment of a streamed completion. Exactly one of
// the payload fields is populated per chunk; Done is set on the final chunk
// and carries the aggregated Response.
type ResponseChunk struct {
	TextDelta             string
	ReasoningContentDelta string
	ToolCallDelta         *ToolCallDelta
	Done                  bool
	Final                 *Response
	Err                   error
}

// ToolCallDelta accumulates a streamed tool call's arguments across chunks;
// providers emit the name once and then stream JSON argument fragments.
type ToolCallDelta struct {
	Index        int
	ID           string
	Name         string
	ArgsFragment string
}

// Gateway routes requests to the configured provider and applies the
// cross-cutting policies (clamping, retry, logging) common to all of them.
type Gateway struct {
	providers map[string]Provider
	models    map[string]string            // model -> provider name
	limits    map[string]*ratelimit.Bucket // provider name -> rate limit bucket
	metrics   *observability.Metrics
	log       *slog.Logger
}

// SetMetrics attaches the shared Prometheus metrics collector; nil disables
// metric recording.
func (g *Gateway) SetMetrics(m *observability.Metrics) {
	g.metrics = m
}

// NewGateway builds an empty Gateway; register providers with Register.
func NewGateway(log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		providers: make(map[string]Provider),
		models:    make(map[string]string),
		limits:    make(map[string]*ratelimit.Bucket),
		log:       log.With("component", "llm_gateway"),
	}
}

// Register adds a provider and the model IDs it is willing to serve. rateCfg
// is per-provider; an empty rateCfg (its zero value has Enabled == false)
// registers the provider with no throttling.
func (g *Gateway) Register(p Provider, rateCfg ratelimit.Config, models ...string) {
	g.providers[p.Name()] = p
	for _, m := range models {
		g.models[m] = p.Name()
	}
	if rateCfg.Enabled {
		g.limits[p.Name()] = ratelimit.NewBucket(rateCfg)
	}
}

// checkRateLimit reports a models.KindProviderRateLimited error if provider
// has a configured bucket and it is currently exhausted; providers with no
// configured limit are never throttled here.
func (g *Gateway) checkRateLimit(providerName string) error {
	bucket, ok := g.limits[providerName]
	if !ok {
		return nil
	}
	if !bucket.Allow() {
		return models.NewError(models.KindProviderRateLimited,
			fmt.Sprintf("local rate limit exceeded for provider %q", providerName), nil)
	}
	return nil
}

func (g *Gateway) resolve(model string) (Provider, error) {
	name, ok := g.models[model]
	if !ok {
		return nil, models.NewError(models.KindModelNotFound, fmt.Sprintf("no provider registered for model %q", model), nil)
	}
	p, ok := g.providers[name]
	if !ok || p == nil {
		return nil, models.NewError(models.KindNoKeyConfigured, fmt.Sprintf("provider %q not configured", name), nil)
	}
	return p, nil
}

// clampMaxTokens silently clamps an out-of-range max_tokens to the
// provider's ceiling for the model, per the spec's InvalidMaxTokens kind
// (clamped silently; not an error).
func clampMaxTokens(p Provider, model string, requested int) int {
	ceiling := p.MaxTokensCeiling(model)
	if ceiling <= 0 {
		return requested
	}
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}

// retryPolicy governs the Gateway's single retry on a transient provider
// error: one backoff sleep starting around 500ms before the second attempt.
var retryPolicy = backoff.BackoffPolicy{InitialMs: 500, MaxMs: 2000, Factor: 2, Jitter: 0.5}

// Chat performs a single non-streaming completion, retrying once on
// transient (rate-limited/timeout) provider errors after a backoff delay.
func (g *Gateway) Chat(ctx context.Context, req *Request) (*Response, error) {
	p, err := g.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	req.MaxTokens = clampMaxTokens(p, req.Model, req.MaxTokens)

	if rlErr := g.checkRateLimit(p.Name()); rlErr != nil {
		if sleepErr := backoff.SleepWithBackoff(ctx, retryPolicy, 1); sleepErr != nil {
			return nil, models.NewError(models.KindCancelled, "cancelled during rate limit backoff", sleepErr)
		}
		if rlErr := g.checkRateLimit(p.Name()); rlErr != nil {
			return nil, wrapProviderError(rlErr)
		}
	}

	start := time.Now()
	resp, err := p.Chat(ctx, req)
	if err == nil {
		g.recordChatMetrics(p.Name(), req.Model, start, resp, nil)
		return resp, nil
	}
	if !models.Retryable(err) {
		g.recordChatMetrics(p.Name(), req.Model, start, nil, err)
		return nil, wrapProviderError(err)
	}
	if sleepErr := backoff.SleepWithBackoff(ctx, retryPolicy, 1); sleepErr != nil {
		return nil, models.NewError(models.KindCancelled, "cancelled during retry backoff", sleepErr)
	}
	g.log.Warn("retrying transient provider error", "provider", p.Name(), "model", req.Model, "error", err)
	start = time.Now()
	resp, err = p.Chat(ctx, req)
	g.recordChatMetrics(p.Name(), req.Model, start, resp, err)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	return resp, nil
}

// Stream performs a streaming completion with the same retry policy applied
// before the stream is opened (a mid-stream failure is not retried, since
// partial output may already have been emitted to the caller).
func (g *Gateway) Stream(ctx context.Context, req *Request) (<-chan *ResponseChunk, error) {
	p, err := g.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	req.MaxTokens = clampMaxTokens(p, req.Model, req.MaxTokens)

	if rlErr := g.checkRateLimit(p.Name()); rlErr != nil {
		if sleepErr := backoff.SleepWithBackoff(ctx, retryPolicy, 1); sleepErr != nil {
			return nil, models.NewError(models.KindCancelled, "cancelled during rate limit backoff", sleepErr)
		}
		if rlErr := g.checkRateLimit(p.Name()); rlErr != nil {
			return nil, wrapProviderError(rlErr)
		}
	}

	ch, err := p.Stream(ctx, req)
	if err == nil {
		return ch, nil
	}
	if !models.Retryable(err) {
		return nil, wrapProviderError(err)
	}
	if sleepErr := backoff.SleepWithBackoff(ctx, retryPolicy, 1); sleepErr != nil {
		return nil, models.NewError(models.KindCancelled, "cancelled during retry backoff", sleepErr)
	}
	g.log.Warn("retrying transient provider error", "provider", p.Name(), "model", req.Model, "error", err)
	ch, err = p.Stream(ctx, req)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	return ch, nil
}

// recordChatMetrics reports a completed Chat attempt, success or failure, to
// the shared Prometheus collector. Safe to call with a nil Gateway.metrics.
func (g *Gateway) recordChatMetrics(providerName, model string, start time.Time, resp *Response, err error) {
	if g.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	promptTokens, completionTokens := 0, 0
	if resp != nil {
		promptTokens, completionTokens = resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	g.metrics.RecordLLMRequest(providerName, model, status, duration, promptTokens, completionTokens)
}

func wrapProviderError(err error) error {
	if models.Is(err, models.KindProviderRateLimited) || models.Is(err, models.KindProviderTimeout) {
		return models.NewError(models.KindProviderError, "provider error persisted after retry", err)
	}
	var agentErr *models.Error
	if errors.As(err, &agentErr) {
		return err
	}
	return models.NewError(models.KindProviderError, "provider request failed", err)
}
