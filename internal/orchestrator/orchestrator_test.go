package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentcore/agentcore/internal/checkpoint"
	"github.com/agentcore/agentcore/internal/docstore"
	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/toolregistry"
)

// scriptedProvider returns one pre-scripted *llm.Response per call, in order.
type scriptedProvider struct {
	responses []*llm.Response
	call      int
}

func (p *scriptedProvider) Name() string                      { return "scripted" }
func (p *scriptedProvider) MaxTokensCeiling(model string) int { return 8192 }
func (p *scriptedProvider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return p.next(), nil
}
func (p *scriptedProvider) Stream(ctx context.Context, req *llm.Request) (<-chan *llm.ResponseChunk, error) {
	resp := p.next()
	ch := make(chan *llm.ResponseChunk, 2)
	if resp.ReasoningContent != "" {
		ch <- &llm.ResponseChunk{ReasoningContentDelta: resp.ReasoningContent}
	}
	if resp.Content != "" {
		ch <- &llm.ResponseChunk{TextDelta: resp.Content}
	}
	ch <- &llm.ResponseChunk{Done: true, Final: resp}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) next() *llm.Response {
	r := p.responses[p.call]
	if p.call < len(p.responses)-1 {
		p.call++
	}
	return r
}

func newGateway(responses ...*llm.Response) *llm.Gateway {
	g := llm.NewGateway(nil)
	g.Register(&scriptedProvider{responses: responses}, "test-model")
	return g
}

type echoTool struct{}

func (echoTool) Name() string                      { return "echo" }
func (echoTool) Description() string               { return "echoes input" }
func (echoTool) ParametersSchema() json.RawMessage { return nil }
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	return models.ToolResult{Content: string(args)}, nil
}

func newCheckpointer(t *testing.T) *checkpoint.Checkpointer {
	t.Helper()
	ds, err := docstore.New(docstore.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("new docstore: %v", err)
	}
	return checkpoint.New(ds)
}

func collect(t *testing.T, ch <-chan *models.AgentEvent, timeout time.Duration) []*models.AgentEvent {
	t.Helper()
	var events []*models.AgentEvent
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestRunEmitsSessionCreatedThenTextThenDoneOnFirstTurn(t *testing.T) {
	gw := newGateway(&llm.Response{Content: "hello there", Usage: llm.Usage{InputTokens: 5, OutputTokens: 5}})
	o := New(Deps{Gateway: gw, Checkpointer: newCheckpointer(t)})

	events := collect(t, o.Run(context.Background(), "s1", "u1", "hi", AgentConfig{Model: "test-model", MaxTokens: 1000}), 2*time.Second)

	if len(events) < 2 {
		t.Fatalf("expected at least 2 events, got %d", len(events))
	}
	if events[0].Type != models.EventSessionCreated {
		t.Fatalf("expected first event to be SessionCreated, got %s", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != models.EventDone {
		t.Fatalf("expected last event to be Done, got %s", last.Type)
	}
	if last.Done.Content != "hello there" {
		t.Fatalf("unexpected done content: %+v", last.Done)
	}
	if events[len(events)-2].Type != models.EventText {
		t.Fatalf("expected Text immediately before Done, got %s", events[len(events)-2].Type)
	}
}

func TestRunExactlyOneTerminalEvent(t *testing.T) {
	gw := newGateway(&llm.Response{Content: "done", Usage: llm.Usage{InputTokens: 1, OutputTokens: 1}})
	o := New(Deps{Gateway: gw, Checkpointer: newCheckpointer(t)})

	events := collect(t, o.Run(context.Background(), "s2", "u1", "hi", AgentConfig{Model: "test-model"}), 2*time.Second)

	terminalCount := 0
	for _, e := range events {
		if e.Type == models.EventDone || e.Type == models.EventInterrupt || e.Type == models.EventError {
			terminalCount++
		}
	}
	if terminalCount != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminalCount)
	}
}

func TestRunExecutesToolsThenResumesAndEmitsDone(t *testing.T) {
	toolCallResp := &llm.Response{
		ToolCalls: []models.ToolCall{{ID: "call-1", Name: "echo", Arguments: map[string]any{"x": 1}, RawArguments: json.RawMessage(`{"x":1}`)}},
		Usage:     llm.Usage{InputTokens: 2, OutputTokens: 2},
	}
	finalResp := &llm.Response{Content: "all done", Usage: llm.Usage{InputTokens: 2, OutputTokens: 2}}
	gw := newGateway(toolCallResp, finalResp)

	tools := toolregistry.New(toolregistry.Policy{})
	if err := tools.Register(echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	o := New(Deps{Gateway: gw, Checkpointer: newCheckpointer(t), Tools: tools})
	events := collect(t, o.Run(context.Background(), "s3", "u1", "use echo", AgentConfig{Model: "test-model", MaxTokens: 5000}), 2*time.Second)

	var sawCall, sawResult, sawDone bool
	callBeforeResult := false
	for i, e := range events {
		switch e.Type {
		case models.EventToolCall:
			sawCall = true
			if e.ToolCall.ID != "call-1" {
				t.Fatalf("unexpected tool call id: %s", e.ToolCall.ID)
			}
		case models.EventToolResult:
			sawResult = true
			if e.ToolResult.ToolCallID != "call-1" {
				t.Fatalf("unexpected tool result id: %s", e.ToolResult.ToolCallID)
			}
			for j := 0; j < i; j++ {
				if events[j].Type == models.EventToolCall {
					callBeforeResult = true
				}
			}
		case models.EventDone:
			sawDone = true
		}
	}
	if !sawCall || !sawResult || !sawDone {
		t.Fatalf("expected tool call, tool result, and done events; got %d events", len(events))
	}
	if !callBeforeResult {
		t.Fatal("expected ToolCall to precede its ToolResult")
	}
}

func TestRunEmitsInterruptWhenApprovalRequired(t *testing.T) {
	toolCallResp := &llm.Response{
		ToolCalls: []models.ToolCall{{ID: "call-1", Name: "dangerous", RawArguments: json.RawMessage(`{}`)}},
	}
	gw := newGateway(toolCallResp)

	tools := toolregistry.New(toolregistry.Policy{RequireConfirmation: []string{"dangerous"}})
	if err := tools.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	o := New(Deps{Gateway: gw, Checkpointer: newCheckpointer(t), Tools: tools})
	events := collect(t, o.Run(context.Background(), "s4", "u1", "do it", AgentConfig{Model: "test-model"}), 2*time.Second)

	last := events[len(events)-1]
	if last.Type != models.EventInterrupt {
		t.Fatalf("expected Interrupt as terminal event, got %s", last.Type)
	}
	if len(last.Interrupt.PendingToolIDs) != 1 || last.Interrupt.PendingToolIDs[0] != "call-1" {
		t.Fatalf("unexpected pending tool ids: %+v", last.Interrupt)
	}
}

func TestRunEndsWithTokenBudgetDoneWhenBudgetExceeded(t *testing.T) {
	toolCallResp := &llm.Response{
		ToolCalls: []models.ToolCall{{ID: "call-1", Name: "echo", RawArguments: json.RawMessage(`{}`)}},
		Usage:     llm.Usage{InputTokens: 10000, OutputTokens: 10000},
	}
	gw := newGateway(toolCallResp)
	tools := toolregistry.New(toolregistry.Policy{})
	if err := tools.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	o := New(Deps{Gateway: gw, Checkpointer: newCheckpointer(t), Tools: tools})
	events := collect(t, o.Run(context.Background(), "s5", "u1", "hi", AgentConfig{Model: "test-model", MaxTokens: 100}), 2*time.Second)

	last := events[len(events)-1]
	if last.Type != models.EventDone {
		t.Fatalf("expected Done with TokenBudget reason, got %s", last.Type)
	}
	if last.Done.Reason != "TokenBudget" {
		t.Fatalf("expected TokenBudget reason, got %q", last.Done.Reason)
	}
}
