// Package agentcore is the public facade over the Agent Execution Core: it
// constructs and wires C1-C13 from a single config.Config, replacing the
// package-level singletons the teacher's components otherwise default to.
package agentcore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentcore/agentcore/internal/checkpoint"
	"github.com/agentcore/agentcore/internal/config"
	"github.com/agentcore/agentcore/internal/contextpack"
	"github.com/agentcore/agentcore/internal/docstore"
	"github.com/agentcore/agentcore/internal/embeddings"
	"github.com/agentcore/agentcore/internal/llm"
	"github.com/agentcore/agentcore/internal/llm/anthropic"
	"github.com/agentcore/agentcore/internal/llm/bedrock"
	openaiprovider "github.com/agentcore/agentcore/internal/llm/openai"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentcore/agentcore/internal/ltm"
	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/internal/orchestrator"
	"github.com/agentcore/agentcore/internal/sandboxexec"
	"github.com/agentcore/agentcore/internal/sandboxsession"
	"github.com/agentcore/agentcore/internal/simplemem"
	"github.com/agentcore/agentcore/internal/toolregistry"
	"github.com/agentcore/agentcore/internal/tools/builtin"
	"github.com/agentcore/agentcore/internal/vectorstore"
	"github.com/agentcore/agentcore/internal/vectorstore/pgvector"
	"github.com/agentcore/agentcore/internal/vectorstore/sqlitevec"
)

// Core bundles every constructed component so callers (cmd/agentcored, or a
// test harness) reach them without touching internal/ directly.
type Core struct {
	Config       *config.Config
	Gateway      *llm.Gateway
	Vectors      vectorstore.Store
	Docs         docstore.Store
	Memory       *ltm.Store
	SimpleMem    *simplemem.Ingestor
	Compressor   *contextpack.Compressor
	Checkpointer *checkpoint.Checkpointer
	Tools        *toolregistry.Registry
	Sessions     *sandboxsession.Manager
	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.Metrics
	// Registry is the Prometheus registry Metrics was built against; serve
	// it at /metrics (see internal/httpserver) rather than the global
	// DefaultRegisterer.
	Registry *prometheus.Registry

	log         *slog.Logger
	tracerClose func(context.Context) error
}

// New constructs a fully wired Core from cfg. It opens the Vector Store and
// Document Store, registers LLM providers (including running Bedrock
// discovery when enabled), builds the Long-Term Memory and SimpleMem
// components, registers the built-in sandbox/file tools, and starts the
// Sandbox Session Manager's sweeper.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Core, error) {
	if log == nil {
		log = observability.NewLogger(observability.LogConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
	}
	log = log.With("component", "agentcore")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	tracer, tracerClose := buildTracer(cfg.Observability.Tracing)

	gateway, err := buildGateway(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}
	gateway.SetMetrics(metrics)

	vectors, err := buildVectorStore(cfg.Memory.Vector)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}

	docs, err := docstore.New(docstore.Config{Path: cfg.Memory.Doc.Path})
	if err != nil {
		return nil, fmt.Errorf("build document store: %w", err)
	}

	embedder := buildEmbedder(cfg.Memory.Embed)

	memory := ltm.New(ltm.Config{Vectors: vectors, Docs: docs, Embedder: embedder})
	if err := memory.Setup(ctx); err != nil {
		return nil, fmt.Errorf("setup long-term memory: %w", err)
	}

	simpleMemIngestor := simplemem.New(gateway, memory, simplemem.Config{
		NoveltyThreshold: cfg.Memory.SimpleMem.NoveltyThreshold,
		ExtractionModel:  cfg.Memory.SimpleMem.ExtractionModel,
	}, log)

	compressor := contextpack.New(gateway, cfg.Agent.Model, log)
	checkpointer := checkpoint.New(docs)

	tools := buildToolRegistry(cfg.Tools)
	tools.SetMetrics(metrics)

	sessions, err := buildSandboxSessions(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("build sandbox session manager: %w", err)
	}

	registerBuiltinTools(tools, cfg)

	orch := orchestrator.New(orchestrator.Deps{
		Gateway:      gateway,
		Memory:       memory,
		SimpleMem:    simpleMemIngestor,
		Compressor:   compressor,
		Checkpointer: checkpointer,
		Tools:        tools,
		Limits: orchestrator.Limits{
			MaxToolIterations: cfg.Agent.MaxToolIterations,
			TotalTimeout:      cfg.Agent.TotalTimeout,
		},
		Log:     log,
		Tracer:  tracer,
		Metrics: metrics,
	})

	return &Core{
		Config:       cfg,
		Gateway:      gateway,
		Vectors:      vectors,
		Docs:         docs,
		Memory:       memory,
		SimpleMem:    simpleMemIngestor,
		Compressor:   compressor,
		Checkpointer: checkpointer,
		Tools:        tools,
		Sessions:     sessions,
		Orchestrator: orch,
		Metrics:      metrics,
		Registry:     registry,
		log:          log,
		tracerClose:  tracerClose,
	}, nil
}

// buildTracer constructs the Tracer from the Observability.Tracing config
// section. Tracing defaults to disabled: with Enabled false (or no endpoint
// configured), the returned Tracer is the zero-cost no-op variant.
func buildTracer(cfg config.TracingConfig) (*observability.Tracer, func(context.Context) error) {
	if !cfg.Enabled {
		return observability.NewNoopTracer(), func(context.Context) error { return nil }
	}
	return observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Endpoint,
		SamplingRate:   cfg.SamplingRate,
		Attributes:     cfg.Attributes,
		EnableInsecure: cfg.Insecure,
	})
}

// Close releases every component holding an OS resource (DB handles, the
// session sweeper goroutine, the OTLP exporter connection).
func (c *Core) Close(ctx context.Context) error {
	if err := c.Sessions.Stop(ctx, "shutdown"); err != nil {
		return err
	}
	if err := c.Vectors.Close(); err != nil {
		return err
	}
	if closer, ok := c.Docs.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	if c.tracerClose != nil {
		return c.tracerClose(ctx)
	}
	return nil
}

func buildGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (*llm.Gateway, error) {
	gateway := llm.NewGateway(log)

	for name, provider := range cfg.Gateway.Providers {
		var p llm.Provider
		switch name {
		case "anthropic":
			p = anthropic.New(anthropic.Config{APIKey: provider.APIKey, BaseURL: provider.BaseURL}, log)
		default:
			// OpenAI and every wire-compatible look-alike (deepseek,
			// dashscope, volcengine, zhipuai, openrouter) share one
			// adapter, distinguished only by ProviderName/BaseURL.
			p = openaiprovider.New(openaiprovider.Config{
				ProviderName: name,
				APIKey:       provider.APIKey,
				BaseURL:      provider.BaseURL,
			}, log)
		}

		modelIDs := catalogModelIDs(name)
		if provider.DefaultModel != "" {
			modelIDs = append(modelIDs, provider.DefaultModel)
		}
		gateway.Register(p, provider.RateLimit, modelIDs...)
	}

	if cfg.Gateway.Bedrock.Enabled {
		discovery := models.NewBedrockDiscovery(models.BedrockDiscoveryConfig{
			Enabled:              true,
			Region:               cfg.Gateway.Bedrock.Region,
			ProviderFilter:       cfg.Gateway.Bedrock.ProviderFilter,
			DefaultContextWindow: cfg.Gateway.Bedrock.DefaultContextWindow,
			DefaultMaxTokens:     cfg.Gateway.Bedrock.DefaultMaxTokens,
		}, log)
		// Bedrock discovery populates the shared model Catalog for
		// listing/metadata purposes; the chat-capable provider below is
		// registered independently so a deployer can pin models by ID
		// without waiting on a live discovery call.
		if err := discovery.RegisterWithCatalog(ctx, models.DefaultCatalog); err != nil {
			log.Warn("bedrock model discovery failed", "error", err)
		}

		bedrockProvider := bedrock.New(bedrock.Config{
			Region:           cfg.Gateway.Bedrock.Region,
			AnthropicVersion: cfg.Gateway.Bedrock.AnthropicVersion,
		}, log)
		bedrockModelIDs := catalogModelIDs(string(models.ProviderBedrock))
		gateway.Register(bedrockProvider, cfg.Gateway.Bedrock.RateLimit, bedrockModelIDs...)
	}

	return gateway, nil
}

// catalogModelIDs looks up every model the shared Catalog knows about for a
// provider name, so a single registered provider config serves every model
// variant the Catalog is aware of without the deployer enumerating them.
func catalogModelIDs(providerName string) []string {
	var ids []string
	for _, m := range models.ListByProvider(models.Provider(providerName)) {
		ids = append(ids, m.ID)
	}
	return ids
}

func buildVectorStore(cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	switch cfg.Backend {
	case "pgvector":
		return pgvector.New(pgvector.Config{DSN: cfg.DSN})
	default:
		return sqlitevec.New(sqlitevec.Config{Path: cfg.Path})
	}
}

func buildEmbedder(cfg config.EmbeddingsConfig) *embeddings.Client {
	return embeddings.New(embeddings.Config{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Dimension: cfg.Dimension,
	})
}

func buildToolRegistry(cfg config.ToolsConfig) *toolregistry.Registry {
	return toolregistry.New(toolregistry.Policy{
		Disabled:            cfg.Disabled,
		RequireConfirmation: cfg.RequireConfirmation,
		AutoApprovePatterns: cfg.AutoApprovePatterns,
		ToolTimeouts:        cfg.ToolTimeouts,
	})
}

func buildSandboxSessions(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sandboxsession.Manager, error) {
	policy := sandboxsession.Policy{
		IdleTimeout:        cfg.Session.IdleTimeout,
		DisconnectTimeout:  cfg.Session.DisconnectTimeout,
		CompletionRetain:   cfg.Session.CompletionRetain,
		MaxSessionDuration: cfg.Session.MaxSessionDuration,
		MaxSessionsPerUser: cfg.Session.MaxSessionsPerUser,
		MaxTotalSessions:   cfg.Session.MaxTotalSessions,
		AllowSessionReuse:  cfg.Session.AllowSessionReuse == nil || *cfg.Session.AllowSessionReuse,
	}
	if policy == (sandboxsession.Policy{}) {
		policy = sandboxsession.DefaultPolicy()
	}

	image := cfg.Sandbox.Image
	resources := sandboxexec.ResourceConfig{
		MemoryLimitMB: cfg.Sandbox.Limits.MemoryLimitMB,
		CPULimit:      cfg.Sandbox.Limits.CPULimit,
		Timeout:       cfg.Sandbox.Timeout,
		NetworkOff:    !cfg.Sandbox.NetworkEnabled,
		Workspace:     cfg.Sandbox.WorkspaceRoot,
	}

	factory := func(ctx context.Context) (sandboxexec.Executor, error) {
		return sandboxexec.NewSessionDocker(ctx, image, resources, cfg.Session.IdleTimeout)
	}

	manager := sandboxsession.New(policy, factory, log)
	if err := manager.Start(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}

// registerBuiltinTools registers the shell/python tools against a stateless
// per-call sandbox executor and the read/write file tools against the
// workspace directory on the host. The stateful per-conversation executors
// behind Sessions are not reached from the tool registry or the Orchestrator.
func registerBuiltinTools(registry *toolregistry.Registry, cfg *config.Config) {
	if !cfg.Sandbox.Enabled {
		return
	}
	executor := sandboxexec.NewStatelessDocker(cfg.Sandbox.Image)
	limits := sandboxexec.ResourceConfig{
		MemoryLimitMB: cfg.Sandbox.Limits.MemoryLimitMB,
		CPULimit:      cfg.Sandbox.Limits.CPULimit,
		Timeout:       cfg.Sandbox.Timeout,
		NetworkOff:    !cfg.Sandbox.NetworkEnabled,
		Workspace:     cfg.Sandbox.WorkspaceRoot,
	}

	_ = registry.Register(builtin.NewShellExecTool(executor, limits))
	_ = registry.Register(builtin.NewPythonExecTool(executor, limits))
	_ = registry.Register(builtin.NewReadFileTool(cfg.Sandbox.WorkspaceRoot, 0))
	_ = registry.Register(builtin.NewWriteFileTool(cfg.Sandbox.WorkspaceRoot))
}
