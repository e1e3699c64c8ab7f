package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentcore/agentcore/internal/ratelimit"
)

// Config is the root configuration for the agent execution core.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Memory        MemoryConfig        `yaml:"memory"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Session       SessionPolicyConfig `yaml:"session"`
	Tools         ToolsConfig         `yaml:"tools"`
	Agent         AgentDefaultsConfig `yaml:"agent"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the process's own listeners (cmd/agentcored).
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// GatewayConfig configures the LLM Gateway (C3): its registered providers
// and Bedrock settings. DefaultProvider, DefaultModel and FallbackChain are
// decoded but not used for routing; the Gateway routes each request by its
// explicit model and tries no fallback provider on error.
type GatewayConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	DefaultModel    string                       `yaml:"default_model"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	FallbackChain   []string                     `yaml:"fallback_chain"`
	Bedrock         BedrockConfig                `yaml:"bedrock"`
}

// LLMProviderConfig configures a single registered provider.
type LLMProviderConfig struct {
	APIKey       string           `yaml:"api_key"`
	DefaultModel string           `yaml:"default_model"`
	BaseURL      string           `yaml:"base_url"`
	APIVersion   string           `yaml:"api_version"`
	RateLimit    ratelimit.Config `yaml:"rate_limit"`
}

// BedrockConfig configures AWS Bedrock foundation model discovery.
type BedrockConfig struct {
	Enabled              bool             `yaml:"enabled"`
	Region               string           `yaml:"region"`
	ProviderFilter       []string         `yaml:"provider_filter"`
	DefaultContextWindow int              `yaml:"default_context_window"`
	DefaultMaxTokens     int              `yaml:"default_max_tokens"`
	AnthropicVersion     string           `yaml:"anthropic_version"`
	RateLimit            ratelimit.Config `yaml:"rate_limit"`
}

// MemoryConfig configures the Vector Store (C4), Document Store (C5),
// Long-Term Memory (C6), and SimpleMem Ingestor (C7).
type MemoryConfig struct {
	Vector    VectorStoreConfig `yaml:"vector"`
	Doc       DocStoreConfig    `yaml:"doc"`
	Embed     EmbeddingsConfig  `yaml:"embeddings"`
	SimpleMem SimpleMemConfig   `yaml:"simplemem"`
}

// VectorStoreConfig selects and configures the C4 backend.
type VectorStoreConfig struct {
	// Backend is "sqlite" (modernc.org/sqlite, embedded) or "pgvector"
	// (Postgres + the vector extension, for shared deployments).
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // sqlite
	DSN     string `yaml:"dsn"`  // pgvector
}

// DocStoreConfig configures the C5 namespaced key/value store.
type DocStoreConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingsConfig configures the embedder used by C6/C7 to turn text into
// vectors before a Vector Store write or search.
type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// SimpleMemConfig tunes the C7 ingestor's novelty filter and extraction
// model.
type SimpleMemConfig struct {
	Enabled          bool    `yaml:"enabled"`
	NoveltyThreshold float64 `yaml:"novelty_threshold"`
	ExtractionModel  string  `yaml:"extraction_model"`
}

// SandboxConfig configures the Sandbox Executor (C10) and, via Session,
// the Sandbox Session Manager (C11).
type SandboxConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend is the container runtime the Executor shells out to. Only
	// "docker" is implemented; the field exists so an alternate runtime
	// can be swapped in without touching callers.
	Backend string `yaml:"backend"`

	Image          string         `yaml:"image"`
	NetworkEnabled bool           `yaml:"network_enabled"`
	Limits         ResourceLimits `yaml:"limits"`
	Timeout        time.Duration  `yaml:"timeout"`

	WorkspaceRoot   string `yaml:"workspace_root"`
	WorkspaceAccess string `yaml:"workspace_access"`
}

// ResourceLimits bounds a single sandbox execution.
type ResourceLimits struct {
	MemoryLimitMB int     `yaml:"memory_limit_mb"`
	CPULimit      float64 `yaml:"cpu_limit"`
}

// SessionPolicyConfig configures the Sandbox Session Manager's (C11) fixed
// policy record.
type SessionPolicyConfig struct {
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	DisconnectTimeout  time.Duration `yaml:"disconnect_timeout"`
	CompletionRetain   time.Duration `yaml:"completion_retain"`
	MaxSessionDuration time.Duration `yaml:"max_session_duration"`
	MaxSessionsPerUser int           `yaml:"max_sessions_per_user"`
	MaxTotalSessions   int           `yaml:"max_total_sessions"`
	AllowSessionReuse  *bool         `yaml:"allow_session_reuse"`
}

// ToolsConfig configures the Tool Registry (C12).
type ToolsConfig struct {
	Disabled            []string              `yaml:"disabled"`
	RequireConfirmation []string              `yaml:"require_confirmation"`
	AutoApprovePatterns []string              `yaml:"auto_approve_patterns"`
	Execution           ToolExecutionConfig   `yaml:"execution"`
	ResultGuard         ToolResultGuardConfig `yaml:"result_guard"`
	// ToolTimeouts sets a per-tool execution deadline by name; tools not
	// listed run without a registry deadline.
	ToolTimeouts map[string]time.Duration `yaml:"tool_timeouts"`
}

// ToolExecutionConfig holds tool-iteration settings that Load defaults but
// no component reads; the Orchestrator's iteration and time limits come
// from Agent.MaxToolIterations and Agent.TotalTimeout.
type ToolExecutionConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ToolResultGuardConfig holds settings for redacting tool results. Load
// fills its defaults; no component in this module applies it, so tool
// results are persisted and fed back to the LLM unredacted.
type ToolResultGuardConfig struct {
	Enabled        bool     `yaml:"enabled"`
	MaxChars       int      `yaml:"max_chars"`
	RedactPatterns []string `yaml:"redact_patterns"`
	RedactionText  string   `yaml:"redaction_text"`
}

// AgentDefaultsConfig seeds the Turn Orchestrator's (C13) per-agent
// AgentConfig when a caller doesn't override it.
type AgentDefaultsConfig struct {
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	SystemPrompt      string        `yaml:"system_prompt"`
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	TotalTimeout      time.Duration `yaml:"total_timeout"`
	CheckpointEnabled bool          `yaml:"checkpoint_enabled"`
}

// Load reads, expands, strictly decodes, defaults, and validates a
// configuration file. $include directives are resolved before decoding so
// a deployment can split its configuration across files.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applySandboxDefaults(&cfg.Sandbox)
	applySessionPolicyDefaults(&cfg.Session)
	applyToolsDefaults(&cfg.Tools)
	applyAgentDefaults(&cfg.Agent)
	applyLoggingDefaults(&cfg.Logging)
	applyMemoryDefaults(&cfg.Memory)
	applyTracingDefaults(&cfg.Observability.Tracing)
	applyGatewayDefaults(&cfg.Gateway)
}

// applyGatewayDefaults fills in a conservative rate limit for any registered
// provider that didn't set one explicitly, so the Gateway always has a
// bucket to throttle against rather than silently running unbounded.
func applyGatewayDefaults(cfg *GatewayConfig) {
	for name, provider := range cfg.Providers {
		if provider.RateLimit == (ratelimit.Config{}) {
			provider.RateLimit = ratelimit.DefaultConfig()
			cfg.Providers[name] = provider
		}
	}
	if cfg.Bedrock.Enabled && cfg.Bedrock.RateLimit == (ratelimit.Config{}) {
		cfg.Bedrock.RateLimit = ratelimit.DefaultConfig()
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applySandboxDefaults(cfg *SandboxConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "docker"
	}
	if cfg.Image == "" {
		cfg.Image = "python:3.12-slim"
	}
	if cfg.Limits.MemoryLimitMB == 0 {
		cfg.Limits.MemoryLimitMB = 512
	}
	if cfg.Limits.CPULimit == 0 {
		cfg.Limits.CPULimit = 1.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WorkspaceAccess == "" {
		cfg.WorkspaceAccess = "readwrite"
	}
}

func applySessionPolicyDefaults(cfg *SessionPolicyConfig) {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Hour
	}
	if cfg.DisconnectTimeout == 0 {
		cfg.DisconnectTimeout = 30 * time.Minute
	}
	if cfg.CompletionRetain == 0 {
		cfg.CompletionRetain = time.Hour
	}
	if cfg.MaxSessionDuration == 0 {
		cfg.MaxSessionDuration = 8 * time.Hour
	}
	if cfg.MaxSessionsPerUser == 0 {
		cfg.MaxSessionsPerUser = 5
	}
	if cfg.MaxTotalSessions == 0 {
		cfg.MaxTotalSessions = 200
	}
	if cfg.AllowSessionReuse == nil {
		allow := true
		cfg.AllowSessionReuse = &allow
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 10
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 300 * time.Second
	}
	if cfg.ResultGuard.MaxChars == 0 {
		cfg.ResultGuard.MaxChars = 10000
	}
	if cfg.ResultGuard.RedactionText == "" {
		cfg.ResultGuard.RedactionText = "[REDACTED]"
	}
}

func applyAgentDefaults(cfg *AgentDefaultsConfig) {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxToolIterations == 0 {
		cfg.MaxToolIterations = 10
	}
	if cfg.TotalTimeout == 0 {
		cfg.TotalTimeout = 300 * time.Second
	}
}

// LoggingConfig configures the slog-based logging ambient to every
// component.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures the cross-cutting tracing/metrics layer.
// Its Tracing section is copied field by field into an
// observability.TraceConfig by pkg/agentcore.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig is the YAML form of observability.TraceConfig.
// pkg/agentcore copies its fields across (Insecure becomes EnableInsecure)
// and builds a tracer only when Enabled is set.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyTracingDefaults(cfg *TracingConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentcore"
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
}

func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "sqlite"
	}
	if cfg.Embed.Dimension == 0 {
		cfg.Embed.Dimension = 1536
	}
	if cfg.SimpleMem.NoveltyThreshold == 0 {
		cfg.SimpleMem.NoveltyThreshold = 0.35
	}
}

func applyEnvOverrides(cfg *Config) {
	for name, provider := range cfg.Gateway.Providers {
		envKey := "AGENTCORE_" + strings.ToUpper(name) + "_API_KEY"
		if value := strings.TrimSpace(os.Getenv(envKey)); value != "" {
			provider.APIKey = value
			cfg.Gateway.Providers[name] = provider
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_EMBEDDINGS_API_KEY")); value != "" {
		cfg.Memory.Embed.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
}

// ConfigValidationError collects every validation issue found in a single
// Load so operators see the whole picture instead of fixing one field at a
// time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if cfg.Sandbox.Enabled && cfg.Sandbox.Backend != "docker" {
		issues = append(issues, fmt.Sprintf("sandbox.backend %q is not supported (only \"docker\")", cfg.Sandbox.Backend))
	}
	if cfg.Sandbox.Limits.MemoryLimitMB < 0 {
		issues = append(issues, "sandbox.limits.memory_limit_mb must be >= 0")
	}
	if cfg.Session.MaxSessionsPerUser < 0 {
		issues = append(issues, "session.max_sessions_per_user must be >= 0")
	}
	if cfg.Session.MaxTotalSessions < 0 {
		issues = append(issues, "session.max_total_sessions must be >= 0")
	}
	if !validBackend(cfg.Memory.Vector.Backend) {
		issues = append(issues, "memory.vector.backend must be \"sqlite\" or \"pgvector\"")
	}
	if cfg.Memory.Vector.Backend == "pgvector" && strings.TrimSpace(cfg.Memory.Vector.DSN) == "" {
		issues = append(issues, "memory.vector.dsn is required when memory.vector.backend is \"pgvector\"")
	}
	if cfg.Agent.MaxToolIterations < 0 {
		issues = append(issues, "agent.max_tool_iterations must be >= 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validBackend(backend string) bool {
	return backend == "sqlite" || backend == "pgvector"
}
