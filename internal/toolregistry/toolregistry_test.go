package toolregistry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentcore/agentcore/internal/models"
)

type echoTool struct {
	name   string
	schema json.RawMessage
	fail   bool
	panics bool
	sleep  time.Duration
}

func (t *echoTool) Name() string                      { return t.name }
func (t *echoTool) Description() string               { return "echoes its input" }
func (t *echoTool) ParametersSchema() json.RawMessage { return t.schema }
func (t *echoTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	if t.panics {
		panic("boom")
	}
	if t.fail {
		return models.ToolResult{}, errFailing
	}
	if t.sleep > 0 {
		select {
		case <-time.After(t.sleep):
		case <-ctx.Done():
			return models.ToolResult{}, ctx.Err()
		}
	}
	return models.ToolResult{Content: string(args)}, nil
}

var errFailing = errors.New("tool execution failed")

func TestExecuteRunsRegisteredTool(t *testing.T) {
	r := New(Policy{})
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "echo", RawArguments: json.RawMessage(`{"x":1}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError || res.Content != `{"x":1}` {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteToolNotFoundReturnsErrorResult(t *testing.T) {
	r := New(Policy{})
	res, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "missing"})
	if err != nil {
		t.Fatalf("expected no Go error, got %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for a missing tool")
	}
}

func TestExecuteDisabledToolReturnsToolNotAvailable(t *testing.T) {
	r := New(Policy{Disabled: []string{"echo"}})
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "echo"})
	if !models.Is(err, models.KindToolNotAvailable) {
		t.Fatalf("expected ToolNotAvailable, got %v", err)
	}
}

func TestExecuteRequiresApprovalRaisesApprovalRequired(t *testing.T) {
	r := New(Policy{RequireConfirmation: []string{"dangerous"}})
	if err := r.Register(&echoTool{name: "dangerous"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "dangerous"})
	if !models.Is(err, models.KindApprovalRequired) {
		t.Fatalf("expected ApprovalRequired, got %v", err)
	}
}

func TestAutoApprovePatternOverridesRequireConfirmation(t *testing.T) {
	r := New(Policy{RequireConfirmation: []string{"dangerous"}, AutoApprovePatterns: []string{"dangerous"}})
	if err := r.Register(&echoTool{name: "dangerous"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "dangerous"})
	if err != nil {
		t.Fatalf("expected auto-approve to bypass ApprovalRequired, got %v", err)
	}
}

func TestExecuteValidatesArgumentsAgainstSchema(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	r := New(Policy{})
	if err := r.Register(&echoTool{name: "greet", schema: schema}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "greet", RawArguments: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected schema validation to fail for missing required field")
	}
}

func TestExecuteConvertsToolPanicEquivalentErrorToResult(t *testing.T) {
	r := New(Policy{})
	if err := r.Register(&echoTool{name: "flaky", fail: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "flaky"})
	if err != nil {
		t.Fatalf("expected no Go error, got %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a failed tool execution to surface as an error result, not abort the turn")
	}
}

func TestExecuteParallelRunsAllCallsAndPreservesOrder(t *testing.T) {
	r := New(Policy{})
	if err := r.Register(&echoTool{name: "a"}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(&echoTool{name: "b"}); err != nil {
		t.Fatalf("register b: %v", err)
	}

	calls := []models.ToolCall{
		{ID: "1", Name: "a", RawArguments: json.RawMessage(`"a-args"`)},
		{ID: "2", Name: "b", RawArguments: json.RawMessage(`"b-args"`)},
	}
	results, errs := r.ExecuteParallel(context.Background(), calls)
	if len(results) != 2 || len(errs) != 2 {
		t.Fatalf("expected 2 results and errs, got %d/%d", len(results), len(errs))
	}
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("unexpected errors: %v %v", errs[0], errs[1])
	}
	if results[0].Content != `"a-args"` || results[1].Content != `"b-args"` {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestExecuteRecoversToolPanicAsErrorResult(t *testing.T) {
	r := New(Policy{})
	if err := r.Register(&echoTool{name: "crasher", panics: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "crasher"})
	if err != nil {
		t.Fatalf("expected no Go error from a recovered panic, got %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a panicking tool to surface as an error result")
	}
	if got := r.Metrics().Panics; got != 1 {
		t.Fatalf("expected 1 recorded panic, got %d", got)
	}
}

func TestExecuteEnforcesPerToolTimeout(t *testing.T) {
	r := New(Policy{ToolTimeouts: map[string]time.Duration{"slow": 10 * time.Millisecond}})
	if err := r.Register(&echoTool{name: "slow", sleep: 100 * time.Millisecond}); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "slow"})
	if err != nil {
		t.Fatalf("expected no Go error, got %v", err)
	}
	if !res.IsError {
		t.Fatal("expected the per-tool timeout to abort the slow tool as an error result")
	}
	if got := r.Metrics().Timeouts; got != 1 {
		t.Fatalf("expected 1 recorded timeout, got %d", got)
	}
}

func TestMetricsCountsTotalAndFailures(t *testing.T) {
	r := New(Policy{})
	if err := r.Register(&echoTool{name: "ok"}); err != nil {
		t.Fatalf("register ok: %v", err)
	}
	if err := r.Register(&echoTool{name: "bad", fail: true}); err != nil {
		t.Fatalf("register bad: %v", err)
	}

	if _, err := r.Execute(context.Background(), models.ToolCall{ID: "1", Name: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Execute(context.Background(), models.ToolCall{ID: "2", Name: "bad"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := r.Metrics()
	if snap.TotalExecutions != 2 {
		t.Fatalf("expected 2 total executions, got %d", snap.TotalExecutions)
	}
	if snap.Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", snap.Failures)
	}
}
