package llm

import (
	"context"
	"testing"

	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/ratelimit"
)

type fakeProvider struct {
	name      string
	ceiling   int
	failTimes int
	calls     int
	err       error
	resp      *Response
}

func (f *fakeProvider) Name() string                { return f.name }
func (f *fakeProvider) MaxTokensCeiling(string) int { return f.ceiling }

func (f *fakeProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *Request) (<-chan *ResponseChunk, error) {
	resp, err := f.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan *ResponseChunk, 1)
	ch <- &ResponseChunk{Done: true, Final: resp}
	close(ch)
	return ch, nil
}

func TestGatewayClampsMaxTokens(t *testing.T) {
	p := &fakeProvider{name: "fake", ceiling: 100, resp: &Response{Content: "hi"}}
	gw := NewGateway(nil)
	gw.Register(p, ratelimit.Config{}, "fake-model")

	req := &Request{Model: "fake-model", MaxTokens: 999999}
	_, err := gw.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.MaxTokens != 100 {
		t.Fatalf("expected MaxTokens clamped to ceiling 100, got %d", req.MaxTokens)
	}
}

func TestGatewayModelNotFound(t *testing.T) {
	gw := NewGateway(nil)
	_, err := gw.Chat(context.Background(), &Request{Model: "unknown"})
	if !models.Is(err, models.KindModelNotFound) {
		t.Fatalf("expected ModelNotFound, got %v", err)
	}
}

func TestGatewayRetriesTransientError(t *testing.T) {
	p := &fakeProvider{
		name:      "fake",
		ceiling:   100,
		failTimes: 1,
		err:       models.NewError(models.KindProviderRateLimited, "rate limited", nil),
		resp:      &Response{Content: "ok after retry"},
	}
	gw := NewGateway(nil)
	gw.Register(p, ratelimit.Config{}, "fake-model")

	resp, err := gw.Chat(context.Background(), &Request{Model: "fake-model", MaxTokens: 10})
	if err != nil {
		t.Fatalf("expected retry to succeed, got error: %v", err)
	}
	if resp.Content != "ok after retry" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if p.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", p.calls)
	}
}

func TestGatewayGivesUpAfterOneRetry(t *testing.T) {
	p := &fakeProvider{
		name:      "fake",
		ceiling:   100,
		failTimes: 5,
		err:       models.NewError(models.KindProviderTimeout, "timeout", nil),
	}
	gw := NewGateway(nil)
	gw.Register(p, ratelimit.Config{}, "fake-model")

	_, err := gw.Chat(context.Background(), &Request{Model: "fake-model"})
	if !models.Is(err, models.KindProviderError) {
		t.Fatalf("expected ProviderError after exhausting the single retry, got %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", p.calls)
	}
}

func TestGatewayEnforcesPerProviderRateLimit(t *testing.T) {
	p := &fakeProvider{name: "fake", ceiling: 100, resp: &Response{Content: "hi"}}
	gw := NewGateway(nil)
	gw.Register(p, ratelimit.Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: true}, "fake-model")

	if _, err := gw.Chat(context.Background(), &Request{Model: "fake-model", MaxTokens: 10}); err != nil {
		t.Fatalf("first call should pass the rate limit: %v", err)
	}

	// The bucket is now exhausted, and the retry backoff (a couple of
	// seconds at most) won't refill a 1 req/s bucket enough to allow a
	// second call immediately.
	if _, err := gw.Chat(context.Background(), &Request{Model: "fake-model", MaxTokens: 10}); err == nil {
		t.Fatal("expected the exhausted rate limit bucket to reject the second call")
	} else if !models.Is(err, models.KindProviderError) {
		t.Fatalf("expected a wrapped ProviderError after the rate-limit retry failed, got %v", err)
	}
}
