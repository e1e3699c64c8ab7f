// Package bedrock adapts AWS Bedrock-hosted Anthropic models to the
// llm.Provider interface, grounded on internal/llm/anthropic's adapter idiom
// (package shape, MaxTokensCeiling table, Chat-via-Stream) and on
// internal/models.BedrockDiscovery's lazy, testable AWS client construction.
// Only Bedrock's Anthropic Messages wire format is supported; non-Anthropic
// foundation models discovered by BedrockDiscovery are catalog-only.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/models"
)

// defaultAnthropicVersion is the Bedrock-specific Anthropic wire version,
// distinct from the version the direct Anthropic API negotiates itself.
const defaultAnthropicVersion = "bedrock-2023-05-31"

// maxTokensCeilings mirrors anthropic.maxTokensCeilings, keyed by the
// Bedrock model-ID substring that identifies the underlying Claude
// generation rather than the direct-API model name.
var maxTokensCeilings = []struct {
	substr  string
	ceiling int
}{
	{"claude-opus-4", 32000},
	{"claude-sonnet-4", 64000},
	{"claude-3-7-sonnet", 64000},
	{"claude-3-5-sonnet", 8192},
	{"claude-3-5-haiku", 8192},
	{"claude-3-opus", 4096},
	{"claude-3-haiku", 4096},
}

const defaultMaxTokensCeiling = 4096

// runtimeClient is the subset of bedrockruntime.Client this adapter calls,
// narrowed to an interface so tests can substitute a fake (see
// models.BedrockClient for the equivalent discovery-side seam).
type runtimeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// Config configures the Bedrock adapter.
type Config struct {
	Region string
	// AnthropicVersion overrides the Bedrock Anthropic wire version sent on
	// every invoke body. Defaults to defaultAnthropicVersion.
	AnthropicVersion string
}

// Provider implements llm.Provider for Bedrock-hosted Anthropic models.
type Provider struct {
	region  string
	version string
	log     *slog.Logger

	mu     sync.Mutex
	client runtimeClient

	// clientFactory substitutes client construction in tests; nil uses the
	// real AWS SDK default credential chain via config.LoadDefaultConfig.
	clientFactory func(ctx context.Context, region string) (runtimeClient, error)
}

// New constructs a Bedrock provider. The AWS client is built lazily on the
// first call (it needs a context the constructor doesn't have), mirroring
// models.BedrockDiscovery.createClient; a missing/invalid AWS credential
// chain surfaces as a KindProviderError from that first call rather than at
// construction time.
func New(cfg Config, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	version := cfg.AnthropicVersion
	if version == "" {
		version = defaultAnthropicVersion
	}
	return &Provider{
		region:  region,
		version: version,
		log:     log.With("provider", "bedrock"),
	}
}

// SetClientFactory overrides AWS client construction (for testing).
func (p *Provider) SetClientFactory(factory func(ctx context.Context, region string) (runtimeClient, error)) {
	p.clientFactory = factory
}

func (p *Provider) Name() string { return "bedrock" }

func (p *Provider) MaxTokensCeiling(model string) int {
	for _, entry := range maxTokensCeilings {
		if strings.Contains(model, entry.substr) {
			return entry.ceiling
		}
	}
	return defaultMaxTokensCeiling
}

func (p *Provider) getClient(ctx context.Context) (runtimeClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	if p.clientFactory != nil {
		client, err := p.clientFactory(ctx, p.region)
		if err != nil {
			return nil, err
		}
		p.client = client
		return client, nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(p.region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := bedrockruntime.NewFromConfig(awsCfg)
	p.client = client
	return client, nil
}

// Chat performs a non-streaming completion via InvokeModel.
func (p *Provider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req.Model == "" {
		return nil, models.NewError(models.KindModelNotFound, "no model specified", nil)
	}

	body, err := p.invokeBody(req)
	if err != nil {
		return nil, models.NewError(models.KindProviderError, "failed to build bedrock request body", err)
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return nil, models.NewError(models.KindProviderError, "failed to build bedrock client", err)
	}

	out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &req.Model,
		Body:        body,
		ContentType: strPtr("application/json"),
		Accept:      strPtr("application/json"),
	})
	if err != nil {
		return nil, wrapBedrockErr(err)
	}

	var decoded invokeResponse
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return nil, models.NewError(models.KindProviderError, "failed to decode bedrock response", err)
	}

	return decoded.toResponse(req.Model), nil
}

// Stream performs a streaming completion via InvokeModelWithResponseStream,
// decoding the same Anthropic streaming event shapes the direct API uses
// (message_start/content_block_delta/message_delta/message_stop), grounded
// on anthropic.Provider.processStream's accumulation loop.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (<-chan *llm.ResponseChunk, error) {
	if req.Model == "" {
		return nil, models.NewError(models.KindModelNotFound, "no model specified", nil)
	}

	body, err := p.invokeBody(req)
	if err != nil {
		return nil, models.NewError(models.KindProviderError, "failed to build bedrock request body", err)
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return nil, models.NewError(models.KindProviderError, "failed to build bedrock client", err)
	}

	out, err := client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     &req.Model,
		Body:        body,
		ContentType: strPtr("application/json"),
		Accept:      strPtr("application/json"),
	})
	if err != nil {
		return nil, wrapBedrockErr(err)
	}

	ch := make(chan *llm.ResponseChunk, 16)
	go p.processStream(out.GetStream(), ch, req.Model)
	return ch, nil
}

func (p *Provider) processStream(stream *bedrockruntime.InvokeModelWithResponseStreamEventStream, out chan<- *llm.ResponseChunk, model string) {
	defer close(out)
	defer stream.Close()

	var content, reasoning string
	var usage llm.Usage
	toolCalls := map[int]*models.ToolCall{}
	toolArgsJSON := map[int]string{}

	for event := range stream.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		var e streamEvent
		if err := json.Unmarshal(chunk.Value.Bytes, &e); err != nil {
			out <- &llm.ResponseChunk{Err: models.NewError(models.KindProviderError, "failed to decode bedrock stream event", err)}
			return
		}

		switch e.Type {
		case "content_block_start":
			if e.ContentBlock.Type == "tool_use" {
				toolCalls[e.Index] = &models.ToolCall{ID: e.ContentBlock.ID, Name: e.ContentBlock.Name}
			}
		case "content_block_delta":
			switch e.Delta.Type {
			case "text_delta":
				content += e.Delta.Text
				out <- &llm.ResponseChunk{TextDelta: e.Delta.Text}
			case "thinking_delta":
				reasoning += e.Delta.Thinking
				out <- &llm.ResponseChunk{ReasoningContentDelta: e.Delta.Thinking}
			case "input_json_delta":
				toolArgsJSON[e.Index] += e.Delta.PartialJSON
				out <- &llm.ResponseChunk{ToolCallDelta: &llm.ToolCallDelta{
					Index:        e.Index,
					ArgsFragment: e.Delta.PartialJSON,
				}}
			}
		case "message_start":
			usage.InputTokens = e.Message.Usage.InputTokens
			usage.CacheReadTokens = e.Message.Usage.CacheReadInputTokens
			usage.CacheWriteTokens = e.Message.Usage.CacheCreationInputTokens
			usage.CacheHit = usage.CacheReadTokens > 0
		case "message_delta":
			usage.OutputTokens = e.Usage.OutputTokens
		}
	}
	if err := stream.Err(); err != nil {
		out <- &llm.ResponseChunk{Err: wrapBedrockErr(err)}
		return
	}

	var calls []models.ToolCall
	for idx, tc := range toolCalls {
		raw := toolArgsJSON[idx]
		tc.RawArguments = []byte(raw)
		tc.Arguments = parseArgsLoose(raw)
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
			Provider:         "bedrock",
		},
	}
}

// invokeBody builds the Anthropic-on-Bedrock invoke payload: the same
// messages/system/tools shape the direct Anthropic API uses, minus the
// "model" field (Bedrock routes by ModelId on the InvokeModel call itself).
func (p *Provider) invokeBody(req *llm.Request) ([]byte, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	body := invokeRequest{
		AnthropicVersion: p.version,
		MaxTokens:        req.MaxTokens,
		Messages:         messages,
		System:           req.System,
		Temperature:      req.Temperature,
		Tools:            convertTools(req.Tools),
	}
	return json.Marshal(body)
}

type invokeRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	Messages         []wireMessage `json:"messages"`
	System           string        `json:"system,omitempty"`
	Temperature      float64       `json:"temperature,omitempty"`
	Tools            []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role    string             `json:"role"`
	Content []wireContentBlock `json:"content"`
}

type wireContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type invokeResponse struct {
	Content []wireContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

func (r *invokeResponse) toResponse(model string) *llm.Response {
	var content string
	var calls []models.ToolCall
	for _, block := range r.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			calls = append(calls, models.ToolCall{
				ID:           block.ID,
				Name:         block.Name,
				Arguments:    parseArgsLoose(string(block.Input)),
				RawArguments: block.Input,
			})
		}
	}
	return &llm.Response{
		Content:   content,
		ToolCalls: calls,
		Usage: llm.Usage{
			InputTokens:  r.Usage.InputTokens,
			OutputTokens: r.Usage.OutputTokens,
		},
		Model:    model,
		Provider: "bedrock",
	}
}

type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Message struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func convertMessages(msgs []models.Message) ([]wireMessage, error) {
	var result []wireMessage
	for _, msg := range msgs {
		var blocks []wireContentBlock
		if msg.Content != "" {
			blocks = append(blocks, wireContentBlock{Type: "text", Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			input, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("marshal tool call arguments for %s: %w", tc.Name, err)
			}
			blocks = append(blocks, wireContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
		}
		for _, tr := range msg.ToolResults {
			blocks = append(blocks, wireContentBlock{Type: "tool_result", ToolUseID: tr.ToolCallID, Content: tr.Content, IsError: tr.IsError})
		}
		if len(blocks) == 0 {
			continue
		}
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "assistant"
		}
		result = append(result, wireMessage{Role: role, Content: blocks})
	}
	return result, nil
}

func convertTools(tools []llm.ToolDefinition) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			schema = []byte(`{}`)
		}
		result = append(result, wireTool{Name: t.Name, Description: t.Description, InputSchema: schema})
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

// wrapBedrockErr classifies a Bedrock SDK error by message content, since
// the SDK's typed errors (ThrottlingException, ModelTimeoutException) are
// returned as smithy API errors whose Go type varies by transport; string
// matching mirrors anthropic.wrapAnthropicErr's pragmatic approach.
func wrapBedrockErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "throttl") || strings.Contains(msg, "toomanyrequests"):
		return models.NewError(models.KindProviderRateLimited, "bedrock throttled the request", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return models.NewError(models.KindProviderTimeout, "bedrock request timed out", err)
	default:
		return models.NewError(models.KindProviderError, "bedrock request failed", err)
	}
}

func strPtr(s string) *string { return &s }
