package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsCanBeConstructedMoreThanOncePerProcess(t *testing.T) {
	// A per-instance registry (rather than the global DefaultRegisterer)
	// means building a second Core in the same process — as the
	// pkg/agentcore test suite does — never panics on duplicate
	// registration.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestRecordLLMRequestUpdatesCounterDurationAndTokens(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordLLMRequest("anthropic", "claude-opus-4", "success", 1.5, 120, 48)

	expectedCounter := `
		# HELP agentcore_llm_requests_total Total number of LLM requests by provider, model, and status
		# TYPE agentcore_llm_requests_total counter
		agentcore_llm_requests_total{model="claude-opus-4",provider="anthropic",status="success"} 1
	`
	if err := testutil.CollectAndCompare(m.LLMRequestCounter, strings.NewReader(expectedCounter), "agentcore_llm_requests_total"); err != nil {
		t.Errorf("unexpected LLMRequestCounter value: %v", err)
	}

	if testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-opus-4", "prompt")) != 120 {
		t.Error("expected prompt tokens to be recorded")
	}
	if testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-opus-4", "completion")) != 48 {
		t.Error("expected completion tokens to be recorded")
	}
	if testutil.CollectAndCount(m.LLMRequestDuration) < 1 {
		t.Error("expected LLMRequestDuration to have an observation")
	}
}

func TestRecordLLMRequestSkipsZeroTokenCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// An error response has no usage to report; the token counters for
	// this provider/model pair should stay unregistered rather than
	// record a zero.
	m.RecordLLMRequest("openai", "gpt-4o", "error", 0.2, 0, 0)

	if testutil.CollectAndCount(m.LLMTokensUsed) != 0 {
		t.Error("expected no token observations when prompt/completion counts are zero")
	}
}

func TestRecordToolExecutionUpdatesCounterAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordToolExecution("shell_exec", "success", 0.25)
	m.RecordToolExecution("shell_exec", "error", 0.05)

	if testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("shell_exec", "success")) != 1 {
		t.Error("expected one success execution recorded")
	}
	if testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("shell_exec", "error")) != 1 {
		t.Error("expected one error execution recorded")
	}
	if testutil.CollectAndCount(m.ToolExecutionDuration) < 1 {
		t.Error("expected ToolExecutionDuration to have observations")
	}
}

func TestRecordErrorIncrementsByComponentAndKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordError("orchestrator", "provider_error")
	m.RecordError("orchestrator", "provider_error")
	m.RecordError("orchestrator", "execution_timeout")

	if testutil.ToFloat64(m.ErrorCounter.WithLabelValues("orchestrator", "provider_error")) != 2 {
		t.Error("expected two provider_error errors recorded")
	}
	if testutil.ToFloat64(m.ErrorCounter.WithLabelValues("orchestrator", "execution_timeout")) != 1 {
		t.Error("expected one execution_timeout error recorded")
	}
}

func TestRecordRunAttemptTracksOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRunAttempt("success")
	m.RecordRunAttempt("retry")
	m.RecordRunAttempt("retry")
	m.RecordRunAttempt("failed")

	if testutil.ToFloat64(m.RunAttempts.WithLabelValues("success")) != 1 {
		t.Error("expected one success run attempt")
	}
	if testutil.ToFloat64(m.RunAttempts.WithLabelValues("retry")) != 2 {
		t.Error("expected two retry run attempts")
	}
	if testutil.ToFloat64(m.RunAttempts.WithLabelValues("failed")) != 1 {
		t.Error("expected one failed run attempt")
	}
}
