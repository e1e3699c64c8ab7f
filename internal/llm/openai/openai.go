// Package openai adapts the OpenAI chat-completions API (and every
// OpenAI-compatible look-alike — DashScope, DeepSeek, Volcengine, ZhipuAI —
// by pointing BaseURL/headers at the right endpoint, the same way the
// teacher reuses one client shape for OpenRouter/Copilot-proxy style
// providers) to the llm.Provider interface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/models"
)

// Config configures an OpenAI-compatible provider.
type Config struct {
	// ProviderName distinguishes the wire-compatible look-alike being
	// served (e.g. "openai", "deepseek", "dashscope", "volcengine",
	// "zhipuai"); it is returned by Name() and tagged on log lines. The
	// max-tokens ceiling is looked up by model alone.
	ProviderName string
	APIKey       string
	BaseURL      string
	// SingleCacheBreakpoint mirrors DeepSeek's implicit-prefix caching,
	// which needs no explicit cache_control marker — it is reported via
	// usage.prompt_cache_hit_tokens instead.
	SingleCacheBreakpoint bool
}

var defaultCeilings = map[string]int{
	"gpt-4o":            16384,
	"gpt-4-turbo":       4096,
	"gpt-4":             8192,
	"gpt-3.5-turbo":     4096,
	"deepseek-chat":     8192,
	"deepseek-reasoner": 8192,
	"qwen-max":          8192,
	"qwen-plus":         8192,
	"glm-4":             8192,
}

const defaultCeiling = 4096

// Provider implements llm.Provider for OpenAI and compatible APIs.
type Provider struct {
	client *openai.Client
	name   string
	cfg    Config
	log    *slog.Logger
}

// New constructs an OpenAI-compatible provider. A nil/empty APIKey yields a
// provider that fails every call with NoKeyConfigured.
func New(cfg Config, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	p := &Provider{name: cfg.ProviderName, cfg: cfg, log: log.With("provider", cfg.ProviderName)}
	if cfg.APIKey == "" {
		return p
	}
	oaConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaConfig.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(oaConfig)
	p.client = client
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) MaxTokensCeiling(model string) int {
	if ceiling, ok := defaultCeilings[model]; ok {
		return ceiling
	}
	return defaultCeiling
}

func (p *Provider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if p.client == nil {
		return nil, models.NewError(models.KindNoKeyConfigured, p.name+" API key not configured", nil)
	}
	chatReq := p.buildRequest(req)
	chatReq.Stream = false

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, wrapErr(err)
	}
	return toResponse(resp, p.name), nil
}

func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan *llm.ResponseChunk, error) {
	if p.client == nil {
		return nil, models.NewError(models.KindNoKeyConfigured, p.name+" API key not configured", nil)
	}
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapErr(err)
	}

	out := make(chan *llm.ResponseChunk, 16)
	go p.processStream(stream, out)
	return out, nil
}

func (p *Provider) buildRequest(req *llm.Request) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m)...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	return chatReq
}

func convertMessage(m models.Message) []openai.ChatCompletionMessage {
	role := string(m.Role)
	if len(m.ToolCalls) > 0 {
		var calls []openai.ToolCall
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			calls = append(calls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		return []openai.ChatCompletionMessage{{Role: role, Content: m.Content, ToolCalls: calls}}
	}
	if len(m.ToolResults) > 0 {
		var out []openai.ChatCompletionMessage
		for _, tr := range m.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
		return out
	}
	return []openai.ChatCompletionMessage{{Role: role, Content: m.Content}}
}

func convertTools(tools []llm.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (p *Provider) processStream(stream *openai.ChatCompletionStream, out chan<- *llm.ResponseChunk) {
	defer close(out)
	defer stream.Close()

	var content string
	toolCalls := map[int]*models.ToolCall{}
	toolArgs := map[int]string{}
	var usage llm.Usage

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out <- &llm.ResponseChunk{Err: wrapErr(err)}
			return
		}
		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
			if p.cfg.SingleCacheBreakpoint && resp.Usage.PromptCacheHitTokens > 0 {
				usage.CacheReadTokens = resp.Usage.PromptCacheHitTokens
				usage.CacheHit = true
			}
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				content += choice.Delta.Content
				out <- &llm.ResponseChunk{TextDelta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				entry, ok := toolCalls[idx]
				if !ok {
					entry = &models.ToolCall{ID: tc.ID, Name: tc.Function.Name}
					toolCalls[idx] = entry
				}
				toolArgs[idx] += tc.Function.Arguments
				out <- &llm.ResponseChunk{ToolCallDelta: &llm.ToolCallDelta{
					Index:        idx,
					ID:           tc.ID,
					Name:         tc.Function.Name,
					ArgsFragment: tc.Function.Arguments,
				}}
			}
		}
	}

	var calls []models.ToolCall
	for idx, tc := range toolCalls {
		raw := toolArgs[idx]
		tc.RawArguments = []byte(raw)
		var args map[string]any
		if err := json.Unmarshal([]byte(raw), &args); err == nil {
			tc.Arguments = args
		}
		calls = append(calls, *tc)
	}

	out <- &llm.ResponseChunk{
		Done: true,
		Final: &llm.Response{
			Content:   content,
			ToolCalls: calls,
			Usage:     usage,
			Provider:  p.name,
		},
	}
}

func toResponse(resp openai.ChatCompletionResponse, provider string) *llm.Response {
	var content string
	var calls []models.ToolCall
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		content = choice.Message.Content
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			calls = append(calls, models.ToolCall{
				ID:           tc.ID,
				Name:         tc.Function.Name,
				Arguments:    args,
				RawArguments: []byte(tc.Function.Arguments),
			})
		}
	}
	return &llm.Response{
		Content:   content,
		ToolCalls: calls,
		Model:     resp.Model,
		Provider:  provider,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}

func wrapErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return models.NewError(models.KindProviderRateLimited, "rate limited", err)
		case 408, 504:
			return models.NewError(models.KindProviderTimeout, "request timed out", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.KindProviderTimeout, "request timed out", err)
	}
	return models.NewError(models.KindProviderError, "request failed", err)
}
