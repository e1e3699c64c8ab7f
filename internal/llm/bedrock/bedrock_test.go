package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/models"
)

type fakeRuntimeClient struct {
	invokeErr error
	invokeOut *bedrockruntime.InvokeModelOutput

	lastInput *bedrockruntime.InvokeModelInput
}

func (f *fakeRuntimeClient) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastInput = params
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return f.invokeOut, nil
}

func (f *fakeRuntimeClient) InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("not exercised in this test")
}

func newTestProvider(client runtimeClient) *Provider {
	p := New(Config{Region: "us-east-1"}, nil)
	p.SetClientFactory(func(ctx context.Context, region string) (runtimeClient, error) {
		return client, nil
	})
	return p
}

func TestChatDecodesInvokeModelResponse(t *testing.T) {
	decoded := invokeResponse{
		Content: []wireContentBlock{{Type: "text", Text: "hello from claude"}},
	}
	decoded.Usage.InputTokens = 12
	decoded.Usage.OutputTokens = 5
	respBody, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("marshal fixture response: %v", err)
	}

	client := &fakeRuntimeClient{invokeOut: &bedrockruntime.InvokeModelOutput{Body: respBody}}
	p := newTestProvider(client)

	resp, err := p.Chat(context.Background(), &llm.Request{
		Model:     "anthropic.claude-3-5-sonnet-20241022-v2:0",
		MaxTokens: 256,
		Messages:  []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from claude" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if resp.Provider != "bedrock" {
		t.Fatalf("expected provider bedrock, got %q", resp.Provider)
	}

	if client.lastInput == nil || client.lastInput.ModelId == nil || *client.lastInput.ModelId != "anthropic.claude-3-5-sonnet-20241022-v2:0" {
		t.Fatalf("expected the request's model to be forwarded as ModelId, got %+v", client.lastInput)
	}
	var sent invokeRequest
	if err := json.Unmarshal(client.lastInput.Body, &sent); err != nil {
		t.Fatalf("invalid invoke body: %v", err)
	}
	if sent.AnthropicVersion != defaultAnthropicVersion {
		t.Fatalf("expected default anthropic_version, got %q", sent.AnthropicVersion)
	}
	if sent.MaxTokens != 256 {
		t.Fatalf("expected max_tokens to be forwarded, got %d", sent.MaxTokens)
	}
}

func TestChatWrapsInvokeModelError(t *testing.T) {
	client := &fakeRuntimeClient{invokeErr: errors.New("ThrottlingException: rate exceeded")}
	p := newTestProvider(client)

	_, err := p.Chat(context.Background(), &llm.Request{Model: "anthropic.claude-3-5-sonnet-20241022-v2:0", MaxTokens: 10})
	if !models.Is(err, models.KindProviderRateLimited) {
		t.Fatalf("expected ProviderRateLimited, got %v", err)
	}
}

func TestChatRequiresModel(t *testing.T) {
	p := newTestProvider(&fakeRuntimeClient{})
	_, err := p.Chat(context.Background(), &llm.Request{MaxTokens: 10})
	if !models.Is(err, models.KindModelNotFound) {
		t.Fatalf("expected ModelNotFound, got %v", err)
	}
}

func TestMaxTokensCeilingMatchesModelFamily(t *testing.T) {
	p := New(Config{}, nil)
	cases := map[string]int{
		"anthropic.claude-3-5-sonnet-20241022-v2:0": 8192,
		"anthropic.claude-3-haiku-20240307-v1:0":    4096,
		"anthropic.claude-unknown-model":            defaultMaxTokensCeiling,
	}
	for model, want := range cases {
		if got := p.MaxTokensCeiling(model); got != want {
			t.Errorf("MaxTokensCeiling(%q) = %d, want %d", model, got, want)
		}
	}
}

func TestNameIsBedrock(t *testing.T) {
	if got := New(Config{}, nil).Name(); got != "bedrock" {
		t.Fatalf("expected name bedrock, got %q", got)
	}
}
