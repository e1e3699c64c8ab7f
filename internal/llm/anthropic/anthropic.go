// Package anthropic adapts the Anthropic Messages API to the llm.Provider
// interface, including prompt-cache breakpoint shaping via cache_control
// content blocks (not present in the teacher's adapter, authored fresh
// against the SDK's existing content-block types).
package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/models"
)

type anthropicStream = ssestream.Stream[anthropic.MessageStreamEventUnion]

// maxTokensCeilings mirrors the teacher's per-model ceiling table.
var maxTokensCeilings = map[string]int{
	"claude-opus-4":     32000,
	"claude-sonnet-4":   64000,
	"claude-3-7-sonnet": 64000,
	"claude-3-5-sonnet": 8192,
	"claude-3-5-haiku":  8192,
	"claude-3-opus":     4096,
	"claude-3-haiku":    4096,
}

const defaultMaxTokensCeiling = 8192

// Provider implements llm.Provider for Anthropic.
type Provider struct {
	client anthropic.Client
	log    *slog.Logger
}

// Config configures the Anthropic adapter.
type Config struct {
	APIKey  string
	BaseURL string
}

// New constructs an Anthropic provider. A nil/empty APIKey yields a
// provider that fails every call with NoKeyConfigured, matching the
// gateway's "surfaced to caller; turn aborted" handling for that kind.
func New(cfg Config, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if cfg.APIKey == "" {
		return &Provider{log: log.With("provider", "anthropic")}
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{
		client: anthropic.NewClient(opts...),
		log:    log.With("provider", "anthropic"),
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) MaxTokensCeiling(model string) int {
	if ceiling, ok := maxTokensCeilings[model]; ok {
		return ceiling
	}
	return defaultMaxTokensCeiling
}

// Chat performs a non-streaming completion by draining Stream.
func (p *Provider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var final *llm.Response
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Done {
			final = chunk.Final
		}
	}
	if final == nil {
		return nil, models.NewError(models.KindProviderError, "anthropic stream closed without a final response", nil)
	}
	return final, nil
}

func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan *llm.ResponseChunk, error) {
	if req.Model == "" {
		return nil, models.NewError(models.KindModelNotFound, "no model specified", nil)
	}
	if isZeroClient(p.client) {
		return nil, models.NewError(models.KindNoKeyConfigured, "anthropic API key not configured", nil)
	}

	messages, system, err := convertMessages(req)
	if err != nil {
		return nil, models.NewError(models.KindProviderError, "failed to convert messages", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
		System:    system,
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan *llm.ResponseChunk, 16)
	go p.processStream(stream, out, req.Model)
	return out, nil
}

// isZeroClient reports whether the SDK client was never configured with an
// API key (the zero-value Provider constructed by New with no key).
func isZeroClient(c anthropic.Client) bool {
	return c.Options == nil
}

func (p *Provider) processStream(stream *anthropicStream, out chan<- *llm.ResponseChunk, model string) {
	defer close(out)

	var content, reasoning string
	var usage llm.Usage
	toolCalls := map[int]*models.ToolCall{}
	toolArgsJSON := map[int]string{}

	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				content += delta.Text
				out <- &llm.ResponseChunk{TextDelta: delta.Text}
			case anthropic.ThinkingDelta:
				reasoning += delta.Thinking
				out <- &llm.ResponseChunk{ReasoningContentDelta: delta.Thinking}
			case anthropic.InputJSONDelta:
				idx := int(variant.Index)
				toolArgsJSON[idx] += delta.PartialJSON
				out <- &llm.ResponseChunk{ToolCallDelta: &llm.ToolCallDelta{
					Index:        idx,
					ArgsFragment: delta.PartialJSON,
				}}
			}
		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				idx := int(variant.Index)
				toolCalls[idx] = &models.ToolCall{ID: block.ID, Name: block.Name}
			}
		case anthropic.MessageDeltaEvent:
			usage.OutputTokens = int(variant.Usage.OutputTokens)
		case anthropic.MessageStartEvent:
			usage.InputTokens = int(variant.Message.Usage.InputTokens)
			usage.CacheReadTokens = int(variant.Message.Usage.CacheReadInputTokens)
			usage.CacheWriteTokens = int(variant.Message.Usage.CacheCreationInputTokens)
			usage.CacheHit = usage.CacheReadTokens > 0
		}
	}
	if err := stream.Err(); err != nil && err != io.EOF {
		out <- &llm.ResponseChunk{Err: wrapAnthropicErr(err)}
		return
	}

	var calls []models.ToolCall
	for idx, tc := range toolCalls {
		tc.RawArguments = []byte(toolArgsJSON[idx])
		tc.Arguments = parseArgsLoose(toolArgsJSON[idx])
		calls = append(calls, *tc)
	}

	out <- &llm.ResponseChunk{
		Done: true,
		Final: &llm.Response{
			Content:          content,
			ReasoningContent: reasoning,
			ToolCalls:        calls,
			Usage:            usage,
			Model:            model,
			Provider:         "anthropic",
		},
	}
}

func wrapAnthropicErr(err error) error {
	if isRateLimited(err) {
		return models.NewError(models.KindProviderRateLimited, "anthropic rate limited", err)
	}
	if isTimeout(err) {
		return models.NewError(models.KindProviderTimeout, "anthropic request timed out", err)
	}
	return models.NewError(models.KindProviderError, "anthropic request failed", err)
}

// convertMessages translates generic messages to Anthropic's content-block
// form and shapes prompt-cache breakpoints: when req.Cache.Enabled, a
// cache_control marker is attached to the system block and to the last N
// eligible content blocks (N = req.Cache.BreakpointCount, capped at 4 per
// Anthropic's API limit), so the prefix up to each marker becomes cacheable.
func convertMessages(req *llm.Request) ([]anthropic.MessageParam, []anthropic.TextBlockParam, error) {
	var system []anthropic.TextBlockParam
	if req.System != "" {
		block := anthropic.TextBlockParam{Text: req.System}
		if req.Cache.Enabled {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		system = append(system, block)
	}

	var result []anthropic.MessageParam
	for _, msg := range req.Messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	if req.Cache.Enabled {
		applyCacheBreakpoints(result, req.Cache.BreakpointCount)
	}
	return result, system, nil
}

// applyCacheBreakpoints marks the last block of up to `count` (capped at 4)
// of the trailing messages as an ephemeral cache breakpoint, in place.
func applyCacheBreakpoints(messages []anthropic.MessageParam, count int) {
	if count <= 0 {
		count = 1
	}
	if count > 4 {
		count = 4
	}
	marked := 0
	for i := len(messages) - 1; i >= 0 && marked < count; i-- {
		blocks := messages[i].Content
		if len(blocks) == 0 {
			continue
		}
		last := &blocks[len(blocks)-1]
		if last.OfText != nil {
			last.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
			marked++
		} else if last.OfToolResult != nil {
			last.OfToolResult.CacheControl = anthropic.NewCacheControlEphemeralParam()
			marked++
		}
	}
}

func convertTools(tools []llm.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result
}

func parseArgsLoose(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"_raw": raw}
	}
	return out
}

func isRateLimited(err error) bool {
	return containsAny(err.Error(), "429", "rate_limit", "rate limit")
}

func isTimeout(err error) bool {
	return containsAny(err.Error(), "deadline exceeded", "timeout", "context canceled")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
