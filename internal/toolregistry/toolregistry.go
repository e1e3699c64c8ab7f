// Package toolregistry implements the Tool Registry (C12): a thread-safe
// name-keyed tool catalog with an allow/deny/confirmation policy, grounded
// on the teacher's internal/agent.ToolRegistry and internal/tools/policy.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/observability"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength  = 256
	MaxToolParamsBytes = 10 << 20
)

// Tool is anything the Orchestrator can invoke by name.
type Tool interface {
	Name() string
	Description() string
	ParametersSchema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error)
}

// Policy configures which tools are disabled entirely and which require an
// interactive approval before they may run.
type Policy struct {
	Disabled            []string
	RequireConfirmation []string
	AutoApprovePatterns []string
	// ToolTimeouts overrides the default execution timeout for individual
	// tools by name; a tool absent from this map runs with no registry-
	// imposed deadline of its own (the caller's ctx still applies).
	ToolTimeouts map[string]time.Duration
}

// MetricsSnapshot reports cumulative tool-execution counters, grounded on
// the teacher's executor metrics surface (total/retries/failures/panics).
type MetricsSnapshot struct {
	TotalExecutions int64
	Failures        int64
	Panics          int64
	Timeouts        int64
}

// Metrics exposes Execute's running counters. Safe for concurrent use.
type Metrics struct {
	total    atomic.Int64
	failures atomic.Int64
	panics   atomic.Int64
	timeouts atomic.Int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalExecutions: m.total.Load(),
		Failures:        m.failures.Load(),
		Panics:          m.panics.Load(),
		Timeouts:        m.timeouts.Load(),
	}
}

func errorResult(callID, message string) models.ToolResult {
	return models.ToolResult{ToolCallID: callID, IsError: true, Error: message}
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// Registry holds registered tools and enforces Policy at execution time.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	schemas     map[string]*jsonschema.Schema
	policy      Policy
	metrics     Metrics
	promMetrics *observability.Metrics
}

// SetMetrics attaches the shared Prometheus metrics collector; nil disables
// metric recording (the Registry's own in-process Metrics() counters still
// work regardless).
func (r *Registry) SetMetrics(m *observability.Metrics) {
	r.promMetrics = m
}

// New constructs an empty Registry under the given Policy.
func New(policy Policy) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		policy:  policy,
	}
}

// Metrics returns the Registry's cumulative execution counters.
func (r *Registry) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}

// Register adds a tool, compiling its JSON-Schema for argument validation.
// A tool whose schema fails to compile is still registered, but Register
// returns the compile error and no schema is stored, so that tool's
// arguments are not validated against a schema.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool

	if raw := tool.ParametersSchema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		resourceName := tool.Name() + ".json"
		if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("toolregistry: compile schema for %s: %w", tool.Name(), err)
		}
		schema, err := compiler.Compile(resourceName)
		if err != nil {
			return fmt.Errorf("toolregistry: compile schema for %s: %w", tool.Name(), err)
		}
		r.schemas[tool.Name()] = schema
	}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every registered, non-disabled tool as an
// OpenAI-compatible tool definition for the LLM Gateway.
func (r *Registry) Definitions(allowed []string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if containsName(r.policy.Disabled, name) {
			continue
		}
		if len(allowed) > 0 && !containsName(allowed, name) {
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParametersSchema(),
		})
	}
	return defs
}

// ToolDefinition mirrors the LLM Gateway's tool-definition shape.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// RequiresApproval reports whether name must raise ApprovalRequired before
// executing, honoring any configured auto-approve override.
func (r *Registry) RequiresApproval(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if containsName(r.policy.AutoApprovePatterns, name) {
		return false
	}
	return containsName(r.policy.RequireConfirmation, name)
}

// Execute validates and runs a single tool call. It never returns a Go
// error for ordinary tool-level failure; those are reported as
// ToolResult{IsError:true} so the turn can continue. It returns a typed
// *models.Error only for ToolNotAvailable (disabled) or ApprovalRequired.
// The Orchestrator turns such an error into a failed ToolResult; it checks
// RequiresApproval itself before calling Execute and raises an Interrupt.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	if len(call.Name) > MaxToolNameLength {
		return errorResult(call.ID, fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)), nil
	}
	if len(call.RawArguments) > MaxToolParamsBytes {
		return errorResult(call.ID, fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolParamsBytes)), nil
	}

	r.mu.RLock()
	disabled := containsName(r.policy.Disabled, call.Name)
	needsApproval := !containsName(r.policy.AutoApprovePatterns, call.Name) && containsName(r.policy.RequireConfirmation, call.Name)
	tool, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	timeout := r.policy.ToolTimeouts[call.Name]
	r.mu.RUnlock()

	if disabled {
		return models.ToolResult{}, models.NewError(models.KindToolNotAvailable, "tool disabled by policy: "+call.Name, nil)
	}
	if needsApproval {
		return models.ToolResult{}, models.NewError(models.KindApprovalRequired, "tool requires approval: "+call.Name, nil)
	}
	if !ok {
		return errorResult(call.ID, "tool not found: "+call.Name), nil
	}

	args := call.RawArguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if schema != nil {
		var decoded interface{}
		if err := json.Unmarshal(args, &decoded); err != nil {
			return errorResult(call.ID, "invalid JSON arguments: "+err.Error()), nil
		}
		if err := schema.Validate(decoded); err != nil {
			return errorResult(call.ID, "arguments failed schema validation: "+err.Error()), nil
		}
	}

	r.metrics.total.Add(1)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := r.executeRecovered(ctx, tool, args)
	duration := time.Since(start).Seconds()
	if err != nil {
		r.metrics.failures.Add(1)
		if ctx.Err() == context.DeadlineExceeded {
			r.metrics.timeouts.Add(1)
		}
		if r.promMetrics != nil {
			r.promMetrics.RecordToolExecution(call.Name, "error", duration)
		}
		return errorResult(call.ID, err.Error()), nil
	}
	if r.promMetrics != nil {
		r.promMetrics.RecordToolExecution(call.Name, "success", duration)
	}
	result.ToolCallID = call.ID
	return result, nil
}

// executeRecovered runs tool.Execute, converting a panic in the tool's own
// code into an error result rather than crashing the turn, grounded on the
// teacher's executor recover()+stack-capture pattern.
func (r *Registry) executeRecovered(ctx context.Context, tool Tool, args json.RawMessage) (result models.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.panics.Add(1)
			err = fmt.Errorf("tool %s panicked: %v\n%s", tool.Name(), rec, debug.Stack())
		}
	}()
	return tool.Execute(ctx, args)
}

// ExecuteParallel runs every call concurrently and returns results in the
// same order as calls. A per-call ApprovalRequired or ToolNotAvailable
// error short-circuits only that call's slot; callers distinguish it via
// the accompanying error slice.
func (r *Registry) ExecuteParallel(ctx context.Context, calls []models.ToolCall) ([]models.ToolResult, []error) {
	results := make([]models.ToolResult, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			res, err := r.Execute(ctx, call)
			results[i] = res
			errs[i] = err
		}(i, call)
	}
	wg.Wait()
	return results, errs
}
