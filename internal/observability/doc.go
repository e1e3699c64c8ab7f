// Package observability provides the structured logging, Prometheus
// metrics, and OpenTelemetry tracing the Agent Execution Core is built
// against: a redacting *slog.Logger for every component, per-phase trace
// spans for the Turn Orchestrator (C13), and the counters/histograms the
// Gateway (C3), Tool Registry (C12), and Orchestrator record.
//
// # Logging
//
// NewLogger returns a plain *slog.Logger backed by a redactingHandler, so
// every component that receives it — and every .With()/.WithGroup()
// descendant — gets provider API key and secret redaction for free:
//
//	log := observability.NewLogger(observability.LogConfig{
//	    Level:  cfg.LogLevel,
//	    Format: "json",
//	})
//	log.Error("anthropic provider registration failed", "api_key", apiKey) // api_key is redacted
//
// # Metrics
//
// Metrics wraps the Prometheus collectors the core actually records
// against: LLM request latency/token usage (Gateway), tool execution
// latency (Tool Registry), and error/checkpoint-retry counters
// (Orchestrator). Construct one per Core instance against its own
// *prometheus.Registry, not the global DefaultRegisterer, so building a
// second Core in the same process (as the test suite does) never panics on
// duplicate registration:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	gateway.SetMetrics(metrics)
//	tools.SetMetrics(metrics)
//
// # Tracing
//
// Tracer exposes one span helper per traced phase of a turn
// (internal/orchestrator.Orchestrator.runTurn): TraceTurnRecall,
// TraceCallLLM, TraceExecuteTools (plus TraceToolCall for each individual
// tool call inside the batch), and TraceTurnPersist. With no OTLP endpoint
// configured, NewTracer (and the NewNoopTracer shorthand) returns a tracer
// that records no spans, so wiring it into the Orchestrator is zero-cost
// when tracing isn't deployed:
//
//	ctx, span := tracer.TraceTurnRecall(ctx, sessionID)
//	defer span.End()
//	recalled, err := o.recall(ctx, sessionID, userMessage)
//	if err != nil {
//	    tracer.RecordError(span, err)
//	}
//
// # Security Considerations
//
// The logging redaction covers, by default:
//   - Anthropic (sk-ant-...) and OpenAI-shaped (sk-...) API keys
//   - Bearer tokens and JWTs
//   - Passwords/secrets assigned with common key names
//
// Additional patterns can be supplied via LogConfig.RedactPatterns.
package observability
