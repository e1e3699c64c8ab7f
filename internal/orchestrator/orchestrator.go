// Package orchestrator implements the Turn Orchestrator (C13): the state
// machine that drives one conversational turn end to end (recall, prompt
// construction, the LLM/tool loop, persistence, and background
// extraction), grounded on the teacher's internal/agent.AgenticLoop
// (loop.go) state-machine shape and internal/agent.Executor's
// parallel-tool-fan-out discipline.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/agentcore/internal/checkpoint"
	"github.com/agentcore/agentcore/internal/contextpack"
	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/ltm"
	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/internal/simplemem"
	"github.com/agentcore/agentcore/internal/toolregistry"
)

// AgentConfig is the per-turn configuration consumed by the Orchestrator.
type AgentConfig struct {
	Name              string
	Model             string
	Temperature       float64
	MaxTokens         int
	Tools             []string
	SystemPrompt      string
	MaxIterations     int
	CheckpointEnabled bool
	HitlEnabled       bool
	HitlOperations    []string
}

// Limits bounds one turn's execution.
type Limits struct {
	MaxToolIterations int
	TotalTimeout      time.Duration
}

// DefaultLimits returns the spec's default limits.
func DefaultLimits() Limits {
	return Limits{MaxToolIterations: 10, TotalTimeout: 300 * time.Second}
}

// TitleGenerator produces a short session title from the first exchange.
// Implementations typically call back into the Gateway with a cheap model.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, userMessage, assistantMessage string) (string, error)
}

// SessionStore is the subset of session persistence the Orchestrator needs
// for the title-generation background task; full conversation persistence
// (SessionRepository in the spec) lives above this core.
type SessionStore interface {
	HasTitle(ctx context.Context, sessionID string) (bool, error)
	SetTitle(ctx context.Context, sessionID, title string) error
}

// Orchestrator composes the Gateway, Long-Term Memory, SimpleMem Ingestor,
// Context Compressor, Checkpointer, and Tool Registry into the turn state
// machine described by the spec's §4.10.
type Orchestrator struct {
	gateway      *llm.Gateway
	memory       *ltm.Store
	simplemem    *simplemem.Ingestor
	compressor   *contextpack.Compressor
	checkpointer *checkpoint.Checkpointer
	tools        *toolregistry.Registry
	titles       TitleGenerator
	sessionStore SessionStore
	limits       Limits
	log          *slog.Logger
	tracer       *observability.Tracer
	metrics      *observability.Metrics

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sync.Mutex
}

// Deps bundles every collaborator the Orchestrator wires together. Titles
// and SessionStore may be nil; title generation and persistence simply
// no-op. Tracer and Metrics may be nil; the Orchestrator falls back to a
// no-op tracer and skips metric recording respectively.
type Deps struct {
	Gateway      *llm.Gateway
	Memory       *ltm.Store
	SimpleMem    *simplemem.Ingestor
	Compressor   *contextpack.Compressor
	Checkpointer *checkpoint.Checkpointer
	Tools        *toolregistry.Registry
	Titles       TitleGenerator
	SessionStore SessionStore
	Limits       Limits
	Log          *slog.Logger
	Tracer       *observability.Tracer
	Metrics      *observability.Metrics
}

// New constructs an Orchestrator from Deps, filling in default Limits when
// unset.
func New(d Deps) *Orchestrator {
	if d.Limits == (Limits{}) {
		d.Limits = DefaultLimits()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Compressor == nil {
		d.Compressor = contextpack.New(d.Gateway, "", d.Log)
	}
	if d.Tracer == nil {
		d.Tracer = observability.NewNoopTracer()
	}
	return &Orchestrator{
		gateway:      d.Gateway,
		memory:       d.Memory,
		simplemem:    d.SimpleMem,
		compressor:   d.Compressor,
		checkpointer: d.Checkpointer,
		tools:        d.Tools,
		titles:       d.Titles,
		sessionStore: d.SessionStore,
		limits:       d.Limits,
		log:          d.Log.With("component", "turn_orchestrator"),
		tracer:       d.Tracer,
		metrics:      d.Metrics,
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

// lockSession serializes turns on the same session_id, per the spec's
// concurrency model ("a single session_id is serialised ... the caller
// must ensure no two turns on the same session overlap"). The Orchestrator
// enforces this itself as a convenience; callers may also serialize above
// it without conflict.
func (o *Orchestrator) lockSession(sessionID string) func() {
	o.sessionLocksMu.Lock()
	mu, ok := o.sessionLocks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		o.sessionLocks[sessionID] = mu
	}
	o.sessionLocksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

type emitter struct {
	ch       chan *models.AgentEvent
	seq      uint64
	session  string
	terminal bool
	mu       sync.Mutex
}

func (e *emitter) emit(evt *models.AgentEvent) {
	e.mu.Lock()
	e.seq++
	evt.Sequence = e.seq
	evt.Time = timeNow()
	evt.SessionID = e.session
	isTerminal := evt.Type == models.EventDone || evt.Type == models.EventInterrupt || evt.Type == models.EventError
	if isTerminal {
		if e.terminal {
			e.mu.Unlock()
			return
		}
		e.terminal = true
	}
	e.mu.Unlock()
	e.ch <- evt
}

// timeNow is indirected only so that future tests could inject a clock;
// today it is simply time.Now.
func timeNow() time.Time { return time.Now() }

// Run executes one turn and returns a channel of ordered AgentEvents. The
// channel is closed after exactly one terminal event (Done, Interrupt, or
// Error) has been emitted.
func (o *Orchestrator) Run(ctx context.Context, sessionID, userID, userMessage string, cfg AgentConfig) <-chan *models.AgentEvent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	out := make(chan *models.AgentEvent, 16)
	em := &emitter{ch: out, session: sessionID}

	go func() {
		defer close(out)
		unlock := o.lockSession(sessionID)
		defer unlock()

		start := time.Now()
		turnCtx, cancel := context.WithTimeout(ctx, o.limits.TotalTimeout)
		defer cancel()

		o.runTurn(turnCtx, em, sessionID, userID, userMessage, cfg, start)
	}()
	return out
}

func (o *Orchestrator) runTurn(ctx context.Context, em *emitter, sessionID, userID, userMessage string, cfg AgentConfig, start time.Time) {
	// load_state
	state, err := o.loadOrInitState(ctx, em, sessionID, userID)
	if err != nil {
		o.emitError(em, sessionID, "failed to load turn state", err)
		return
	}

	isFirstTurn := len(state.Messages) == 0
	state.Messages = append(state.Messages, models.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   userMessage,
		CreatedAt: time.Now(),
	})

	// recall
	em.emit(&models.AgentEvent{Type: models.EventThinking, Thinking: &models.ThinkingPayload{Status: models.ThinkingRecalling, Iteration: state.Iteration}})
	recalled, err := o.recall(ctx, sessionID, userMessage)
	if err != nil {
		o.log.Warn("memory recall failed, continuing without recalled memories", "session_id", sessionID, "error", err)
	}
	state.RecalledMemories = recalled

	for {
		if timedOut(start, o.limits.TotalTimeout) {
			o.emitError(em, sessionID, "execution timed out", models.NewError(models.KindExecutionTimeout, "turn total_timeout exceeded", nil))
			return
		}

		// build_prompt
		em.emit(&models.AgentEvent{Type: models.EventThinking, Thinking: &models.ThinkingPayload{Status: models.ThinkingProcessing, Iteration: state.Iteration}})
		packed := o.compressor.Compress(ctx, state.Messages, budgetFor(cfg), state.RecalledMemories)
		promptMessages := packed.Messages

		// call_llm
		resp, err := o.callLLM(ctx, cfg, promptMessages, em, state.Iteration)
		if err != nil {
			if models.Is(err, models.KindCancelled) {
				o.emitError(em, sessionID, "cancelled", err)
				return
			}
			o.emitError(em, sessionID, "LLM call failed", err)
			return
		}

		state.TotalTokens += resp.Usage.InputTokens + resp.Usage.OutputTokens
		state.Iteration++

		assistantMsg := models.Message{
			ID:               uuid.New().String(),
			SessionID:        sessionID,
			Role:             models.RoleAssistant,
			Content:          resp.Content,
			ReasoningContent: resp.ReasoningContent,
			ToolCalls:        resp.ToolCalls,
			CreatedAt:        time.Now(),
		}
		state.Messages = append(state.Messages, assistantMsg)

		if len(resp.ToolCalls) == 0 {
			em.emit(&models.AgentEvent{Type: models.EventText, Text: &models.TextPayload{Content: resp.Content}})
			o.finishWithReason(ctx, em, sessionID, userID, state, isFirstTurn, cfg, "stop")
			return
		}

		if cfg.MaxTokens > 0 && state.TotalTokens > cfg.MaxTokens {
			o.finishWithReason(ctx, em, sessionID, userID, state, isFirstTurn, cfg, "TokenBudget")
			return
		}

		if state.ToolIteration >= o.limits.MaxToolIterations {
			o.finishWithReason(ctx, em, sessionID, userID, state, isFirstTurn, cfg, "MaxToolIterations")
			return
		}

		// execute_tools
		interrupted, pendingIDs := o.needsApproval(resp.ToolCalls)
		if interrupted {
			if o.checkpointer != nil {
				if err := o.saveCheckpointRetryOnce(ctx, state); err != nil {
					o.emitError(em, sessionID, "failed to save checkpoint before interrupt", err)
					return
				}
			}
			em.emit(&models.AgentEvent{Type: models.EventInterrupt, Interrupt: &models.InterruptPayload{Reason: "approval_required", PendingToolIDs: pendingIDs}})
			return
		}

		em.emit(&models.AgentEvent{Type: models.EventThinking, Thinking: &models.ThinkingPayload{Status: models.ThinkingExecutingTools, Iteration: state.Iteration}})
		results := o.executeTools(ctx, em, resp.ToolCalls)
		state.ToolIteration++

		toolMsg := models.Message{
			ID:          uuid.New().String(),
			SessionID:   sessionID,
			Role:        models.RoleTool,
			ToolResults: results,
			CreatedAt:   time.Now(),
		}
		state.Messages = append(state.Messages, toolMsg)
	}
}

func timedOut(start time.Time, total time.Duration) bool {
	return total > 0 && time.Since(start) >= total
}

func budgetFor(cfg AgentConfig) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 8192
}

// loadOrInitState loads a checkpoint for sessionID, or constructs a fresh
// TurnState and emits SessionCreated if none exists.
func (o *Orchestrator) loadOrInitState(ctx context.Context, em *emitter, sessionID, userID string) (*models.TurnState, error) {
	if o.checkpointer != nil {
		if loaded, err := o.checkpointer.Load(ctx, sessionID); err != nil {
			return nil, err
		} else if loaded != nil {
			return loaded, nil
		}
	}
	em.emit(&models.AgentEvent{Type: models.EventSessionCreated, SessionCreated: &models.SessionCreatedPayload{SessionID: sessionID}})
	return &models.TurnState{SessionID: sessionID, UserID: userID}, nil
}

// recall gathers memories from the Long-Term Memory store and the
// SimpleMem adaptive retriever, when configured.
func (o *Orchestrator) recall(ctx context.Context, sessionID, query string) ([]models.Memory, error) {
	ctx, span := o.tracer.TraceTurnRecall(ctx, sessionID)
	defer span.End()

	var combined []models.Memory
	if o.memory != nil {
		mem, err := o.memory.Search(ctx, sessionID, query, 10, "")
		if err != nil {
			o.tracer.RecordError(span, err)
			return nil, err
		}
		combined = append(combined, mem...)
	}
	if o.simplemem != nil {
		k := 5
		atoms, err := o.simplemem.AdaptiveRetrieve(ctx, sessionID, query, k)
		if err != nil {
			o.log.Warn("simplemem retrieval failed", "session_id", sessionID, "error", err)
			o.tracer.AddEvent(span, "simplemem_retrieval_failed", "error", err.Error())
		} else {
			combined = append(combined, atoms...)
		}
	}
	o.tracer.SetAttributes(span, "memories_found", len(combined))
	return combined, nil
}

// callLLM streams the response, emitting one Thinking event when the first
// reasoning delta arrives, and returns the aggregated Response; the text is
// accumulated here and emitted by runTurn as a single Text event.
func (o *Orchestrator) callLLM(ctx context.Context, cfg AgentConfig, messages []models.Message, em *emitter, iteration int) (*llm.Response, error) {
	ctx, span := o.tracer.TraceCallLLM(ctx, cfg.Model)
	defer span.End()

	resp, err := o.doCallLLM(ctx, cfg, messages, em, iteration)
	if err != nil {
		o.tracer.RecordError(span, err)
		return nil, err
	}
	o.tracer.SetAttributes(span, "llm.prompt_tokens", resp.Usage.InputTokens, "llm.completion_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

func (o *Orchestrator) doCallLLM(ctx context.Context, cfg AgentConfig, messages []models.Message, em *emitter, iteration int) (*llm.Response, error) {
	req := &llm.Request{
		Model:       cfg.Model,
		System:      cfg.SystemPrompt,
		Messages:    messages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stream:      true,
		Cache:       llm.CachePolicy{Enabled: true, BreakpointCount: 4},
	}
	if o.tools != nil {
		for _, d := range o.tools.Definitions(cfg.Tools) {
			var params map[string]any
			if len(d.Parameters) > 0 {
				_ = json.Unmarshal(d.Parameters, &params)
			}
			req.Tools = append(req.Tools, llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: params})
		}
	}

	ch, err := o.gateway.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	emittedThinking := false
	var textAccum string
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.ReasoningContentDelta != "" && !emittedThinking {
			emittedThinking = true
			em.emit(&models.AgentEvent{Type: models.EventThinking, Thinking: &models.ThinkingPayload{Status: models.ThinkingRecalling, Iteration: iteration, Content: chunk.ReasoningContentDelta}})
		}
		if chunk.TextDelta != "" {
			textAccum += chunk.TextDelta
		}
		if chunk.Done {
			if chunk.Final == nil {
				return nil, models.NewError(models.KindProviderError, "stream completed without a final response", nil)
			}
			if chunk.Final.Content == "" {
				chunk.Final.Content = textAccum
			}
			return chunk.Final, nil
		}
	}
	return nil, models.NewError(models.KindProviderError, "stream closed without a done chunk", nil)
}

// needsApproval reports whether any tool call requires human approval, and
// if so, the full set of pending tool call IDs (all of them, since the
// entire batch is paused together).
func (o *Orchestrator) needsApproval(calls []models.ToolCall) (bool, []string) {
	if o.tools == nil {
		return false, nil
	}
	var pending []string
	approvalNeeded := false
	for _, c := range calls {
		if o.tools.RequiresApproval(c.Name) {
			approvalNeeded = true
		}
		pending = append(pending, c.ID)
	}
	return approvalNeeded, pending
}

// executeTools runs all pending tool calls concurrently, emitting ToolCall
// before and ToolResult after each, and converts any per-call raised error
// (ToolNotAvailable) into a failed ToolResult so the turn is never aborted
// by an individual tool.
func (o *Orchestrator) executeTools(ctx context.Context, em *emitter, calls []models.ToolCall) []models.ToolResult {
	ctx, span := o.tracer.TraceExecuteTools(ctx, len(calls))
	defer span.End()

	for _, c := range calls {
		em.emit(&models.AgentEvent{Type: models.EventToolCall, ToolCall: &models.ToolCallPayload{ID: c.ID, Name: c.Name, Args: c.Arguments}})
	}

	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			_, callSpan := o.tracer.TraceToolCall(ctx, call.Name)
			defer callSpan.End()

			res, err := o.tools.Execute(ctx, call)
			if err != nil {
				res = models.ToolResult{ToolCallID: call.ID, IsError: true, Error: err.Error()}
				o.tracer.RecordError(callSpan, err)
			}
			results[i] = res
			em.emit(&models.AgentEvent{Type: models.EventToolResult, ToolResult: &models.ToolResultPayload{
				ToolCallID: res.ToolCallID,
				Content:    res.Content,
				IsError:    res.IsError,
				DurationMS: res.DurationMS,
			}})
		}(i, c)
	}
	wg.Wait()
	return results
}

// saveCheckpointRetryOnce saves state, retrying once on failure per the
// spec's checkpointer failure policy.
func (o *Orchestrator) saveCheckpointRetryOnce(ctx context.Context, state *models.TurnState) error {
	ctx, span := o.tracer.TraceTurnPersist(ctx, state.SessionID)
	defer span.End()

	state.UpdatedAt = time.Now()
	if err := o.checkpointer.Save(ctx, state); err == nil {
		o.recordRunAttempt("success")
		return nil
	}
	if err := o.checkpointer.Save(ctx, state); err != nil {
		o.tracer.RecordError(span, err)
		o.recordRunAttempt("failed")
		return err
	}
	o.recordRunAttempt("retry")
	return nil
}

func (o *Orchestrator) recordRunAttempt(status string) {
	if o.metrics != nil {
		o.metrics.RecordRunAttempt(status)
	}
}

// finishWithReason persists the final state, saves the checkpoint, emits
// Done, and fires the (un-awaited) background tasks. reason is carried as
// the Done event's Reason.
func (o *Orchestrator) finishWithReason(ctx context.Context, em *emitter, sessionID, userID string, state *models.TurnState, isFirstTurn bool, cfg AgentConfig, reason string) {
	if o.checkpointer != nil {
		if err := o.saveCheckpointRetryOnce(ctx, state); err != nil {
			o.emitError(em, sessionID, "failed to persist checkpoint before done", err)
			return
		}
	}

	var lastAssistant models.Message
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == models.RoleAssistant {
			lastAssistant = state.Messages[i]
			break
		}
	}

	em.emit(&models.AgentEvent{Type: models.EventDone, Done: &models.DonePayload{
		Content:          lastAssistant.Content,
		ReasoningContent: lastAssistant.ReasoningContent,
		Iterations:       state.Iteration,
		ToolIterations:   state.ToolIteration,
		TotalTokens:      state.TotalTokens,
		Reason:           reason,
	}})

	o.fireBackgroundTasks(sessionID, userID, isFirstTurn, state, lastAssistant)
}

// fireBackgroundTasks launches title generation and memory extraction on
// their own cancellation scope, independent of the turn's context, per the
// spec's "post-turn tasks... not awaited... must use their own storage
// handles" rule.
func (o *Orchestrator) fireBackgroundTasks(sessionID, userID string, isFirstTurn bool, state *models.TurnState, lastAssistant models.Message) {
	bgCtx := context.Background()

	if isFirstTurn && o.titles != nil && o.sessionStore != nil {
		go func() {
			hasTitle, err := o.sessionStore.HasTitle(bgCtx, sessionID)
			if err != nil || hasTitle {
				return
			}
			var firstUser string
			for _, m := range state.Messages {
				if m.Role == models.RoleUser {
					firstUser = m.Content
					break
				}
			}
			title, err := o.titles.GenerateTitle(bgCtx, firstUser, lastAssistant.Content)
			if err != nil || title == "" {
				o.log.Warn("title generation failed", "session_id", sessionID, "error", err)
				return
			}
			if err := o.sessionStore.SetTitle(bgCtx, sessionID, title); err != nil {
				o.log.Warn("failed to persist generated title", "session_id", sessionID, "error", err)
			}
		}()
	}

	if o.simplemem != nil {
		go func() {
			if _, err := o.simplemem.ProcessAndStore(bgCtx, sessionID, state.Messages); err != nil {
				o.log.Warn("memory extraction failed", "session_id", sessionID, "error", err)
			}
		}()
	}
}

func (o *Orchestrator) emitError(em *emitter, sessionID, message string, cause error) {
	kind := errorKind(cause)
	o.log.Error(message, "session_id", sessionID, "error", cause)
	if o.metrics != nil {
		o.metrics.RecordError("turn_orchestrator", string(kind))
	}
	em.emit(&models.AgentEvent{Type: models.EventError, Error: &models.ErrorPayload{
		Message:   fmt.Sprintf("%s: %v", message, cause),
		SessionID: sessionID,
		Code:      string(kind),
	}})
}

func errorKind(err error) models.ErrorKind {
	var e *models.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return models.KindProviderError
}
