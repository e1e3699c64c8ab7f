// Package models provides a catalog of LLM models and their capabilities.
package models

import (
	"sort"
	"strings"
	"sync"
)

// Provider identifies an LLM provider. Only providers with a registered
// internal/llm adapter or discovery path (see internal/llm/anthropic,
// internal/llm/openai, internal/llm/bedrock, bedrock_discovery.go) get a
// constant here; the Gateway itself accepts any provider name as a config
// key regardless (internal/config.GatewayConfig.Providers), it just won't
// find catalog-seeded model IDs for one that isn't listed below.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "bedrock"
)

// Capability identifies a model capability. Limited to the capabilities
// actually assigned below or inferred by bedrock_discovery.go.
type Capability string

const (
	CapVision      Capability = "vision"       // Can process images
	CapTools       Capability = "tools"        // Supports function calling
	CapStreaming   Capability = "streaming"    // Supports streaming responses
	CapJSON        Capability = "json"         // Supports JSON mode
	CapCode        Capability = "code"         // Optimized for code
	CapReasoning   Capability = "reasoning"    // Extended reasoning (o1, etc)
	CapAudio       Capability = "audio"        // Can process audio
	CapFineTunable Capability = "fine_tunable" // Can be fine-tuned
	CapPDFInput    Capability = "pdf_input"    // Can process PDFs directly
	CapLongContext Capability = "long_context" // 100k+ context window
	CapCaching     Capability = "caching"      // Supports prompt caching
)

// Tier identifies a model's quality/cost tier.
type Tier string

const (
	TierFlagship Tier = "flagship" // Best quality, highest cost
	TierStandard Tier = "standard" // Good balance
	TierFast     Tier = "fast"     // Faster, cheaper
	TierMini     Tier = "mini"     // Smallest/cheapest
)

// Model represents an LLM model with its capabilities and metadata, as
// registered into the Catalog by registerBuiltinModels or by
// BedrockDiscovery.toModel.
type Model struct {
	// ID is the model identifier used in API calls
	ID string `json:"id"`

	// Name is a human-readable name
	Name string `json:"name"`

	// Provider is the LLM provider
	Provider Provider `json:"provider"`

	// Tier is the quality/cost tier
	Tier Tier `json:"tier"`

	// ContextWindow is the maximum context size in tokens
	ContextWindow int `json:"context_window"`

	// MaxOutputTokens is the maximum output size
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// Capabilities lists what the model can do
	Capabilities []Capability `json:"capabilities"`

	// Aliases are alternative names for this model
	Aliases []string `json:"aliases,omitempty"`

	// Description is a brief description
	Description string `json:"description,omitempty"`
}

// HasCapability checks if the model has a specific capability.
func (m *Model) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Catalog manages a collection of models, consulted by the LLM Gateway
// (C3) to resolve the model IDs a configured provider serves
// (pkg/agentcore.catalogModelIDs) and by BedrockDiscovery to register
// models it finds live in an AWS account.
type Catalog struct {
	models  map[string]*Model // id -> model
	aliases map[string]string // alias -> id
	mu      sync.RWMutex
}

// NewCatalog creates a new model catalog pre-seeded with the builtin
// Anthropic/OpenAI models the Gateway routes to by default.
func NewCatalog() *Catalog {
	c := &Catalog{
		models:  make(map[string]*Model),
		aliases: make(map[string]string),
	}
	c.registerBuiltinModels()
	return c
}

// Register adds a model to the catalog.
func (c *Catalog) Register(model *Model) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models[model.ID] = model

	for _, alias := range model.Aliases {
		c.aliases[strings.ToLower(alias)] = model.ID
	}
}

// Get retrieves a model by ID or alias.
func (c *Catalog) Get(id string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.models[id]; ok {
		return model, true
	}
	if realID, ok := c.aliases[strings.ToLower(id)]; ok {
		return c.models[realID], true
	}
	return nil, false
}

// ListByProvider returns all models registered for a provider, sorted by
// tier (flagship first) then name — the order the Gateway registers model
// IDs in, so the first model a provider is asked to route to by default is
// its flagship.
func (c *Catalog) ListByProvider(provider Provider) []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []*Model
	for _, model := range c.models {
		if model.Provider == provider {
			result = append(result, model)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Tier != result[j].Tier {
			return tierRank(result[i].Tier) < tierRank(result[j].Tier)
		}
		return result[i].Name < result[j].Name
	})
	return result
}

func tierRank(t Tier) int {
	switch t {
	case TierFlagship:
		return 0
	case TierStandard:
		return 1
	case TierFast:
		return 2
	case TierMini:
		return 3
	default:
		return 4
	}
}

func (c *Catalog) registerBuiltinModels() {
	// Anthropic models
	c.Register(&Model{
		ID:              "claude-opus-4",
		Name:            "Claude Opus 4",
		Provider:        ProviderAnthropic,
		Tier:            TierFlagship,
		ContextWindow:   200000,
		MaxOutputTokens: 32000,
		Capabilities: []Capability{
			CapVision, CapTools, CapStreaming, CapJSON, CapCode,
			CapLongContext, CapCaching, CapPDFInput,
		},
		Aliases: []string{"claude-opus-4-5-20251101", "opus"},
	})

	c.Register(&Model{
		ID:              "claude-3-5-sonnet-latest",
		Name:            "Claude 3.5 Sonnet",
		Provider:        ProviderAnthropic,
		Tier:            TierStandard,
		ContextWindow:   200000,
		MaxOutputTokens: 8192,
		Capabilities: []Capability{
			CapVision, CapTools, CapStreaming, CapJSON, CapCode,
			CapLongContext, CapCaching, CapPDFInput,
		},
		Aliases: []string{"claude-3-5-sonnet", "sonnet"},
	})

	c.Register(&Model{
		ID:              "claude-3-5-haiku-latest",
		Name:            "Claude 3.5 Haiku",
		Provider:        ProviderAnthropic,
		Tier:            TierFast,
		ContextWindow:   200000,
		MaxOutputTokens: 8192,
		Capabilities: []Capability{
			CapVision, CapTools, CapStreaming, CapJSON, CapCode,
			CapLongContext, CapCaching,
		},
		Aliases: []string{"claude-3-5-haiku", "haiku"},
	})

	// OpenAI models
	c.Register(&Model{
		ID:              "gpt-4o",
		Name:            "GPT-4o",
		Provider:        ProviderOpenAI,
		Tier:            TierStandard,
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
		Capabilities: []Capability{
			CapVision, CapTools, CapStreaming, CapJSON, CapCode,
			CapLongContext, CapAudio,
		},
		Aliases: []string{"gpt-4o-2024-11-20"},
	})

	c.Register(&Model{
		ID:              "gpt-4o-mini",
		Name:            "GPT-4o Mini",
		Provider:        ProviderOpenAI,
		Tier:            TierFast,
		ContextWindow:   128000,
		MaxOutputTokens: 16384,
		Capabilities: []Capability{
			CapVision, CapTools, CapStreaming, CapJSON, CapCode,
			CapLongContext,
		},
		Aliases: []string{"gpt-4o-mini-2024-07-18"},
	})

	c.Register(&Model{
		ID:              "o3-mini",
		Name:            "o3-mini",
		Provider:        ProviderOpenAI,
		Tier:            TierStandard,
		ContextWindow:   200000,
		MaxOutputTokens: 100000,
		Capabilities: []Capability{
			CapTools, CapReasoning, CapJSON, CapCode, CapLongContext,
		},
		Aliases: []string{"o3-mini-2025-01-31"},
	})
}

// DefaultCatalog is the global model catalog the Gateway and
// BedrockDiscovery share (pkg/agentcore.buildGateway).
var DefaultCatalog = NewCatalog()

// ListByProvider returns models from the default catalog for a provider.
func ListByProvider(provider Provider) []*Model {
	return DefaultCatalog.ListByProvider(provider)
}
