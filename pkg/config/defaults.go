package config

import "fmt"

// ThinkingBudget is the coarse knob spec §4.2 maps to a token budget.
type ThinkingBudget string

const (
	ThinkingOff    ThinkingBudget = "off"
	ThinkingLow    ThinkingBudget = "low"
	ThinkingMedium ThinkingBudget = "medium"
	ThinkingHigh   ThinkingBudget = "high"
)

// TokenBudget maps a ThinkingBudget to its token count. Off omits the
// parameter entirely rather than sending 0, which callers should check for
// separately (see pkg/llm.Gateway).
func (b ThinkingBudget) TokenBudget() int {
	switch b {
	case ThinkingLow:
		return 2000
	case ThinkingMedium:
		return 5000
	case ThinkingHigh:
		return 10000
	default:
		return 0
	}
}

// ProviderFamily distinguishes the two response-format negotiation
// strategies of spec §4.2.
type ProviderFamily string

const (
	FamilyStrictSchema   ProviderFamily = "strict_schema"
	FamilyJSONObjectOnly ProviderFamily = "json_object_only" // anthropic-family
)

// LLMProviderConfig describes one LLM model/provider entry, loaded from
// YAML and used both for request dispatch and for the filtered model
// listing of spec §4.2.
type LLMProviderConfig struct {
	Name             string         `yaml:"name"`
	BaseURL          string         `yaml:"base_url"`
	APIKeyEnv        string         `yaml:"api_key_env"`
	Family           ProviderFamily `yaml:"family"`
	ContextWindow    int            `yaml:"context_window"` // W, in tokens
	SupportsJSONSchema bool         `yaml:"supports_json_schema"`
	PricePerTokenIn  float64        `yaml:"price_per_token_in"`  // USD per token
	PricePerTokenOut float64        `yaml:"price_per_token_out"` // USD per token
	AlwaysInclude    bool           `yaml:"always_include"` // baked-in allowlist member
}

// PricePerMillionIn converts the per-token input price to the per-million
// figure spec §4.2's model listing reports, rounded to 2 decimal places.
func (c LLMProviderConfig) PricePerMillionIn() float64 {
	return round2(c.PricePerTokenIn * 1_000_000)
}

// PricePerMillionOut converts the per-token output price the same way.
func (c LLMProviderConfig) PricePerMillionOut() float64 {
	return round2(c.PricePerTokenOut * 1_000_000)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// GetNameWindowPricing satisfies pkg/llm's providerConfig interface for
// the filtered model listing, without pkg/llm needing to import
// pkg/config's whole surface.
func (c LLMProviderConfig) GetNameWindowPricing() (name string, alwaysInclude bool, contextWindow int, priceIn, priceOut float64, supportsSchema bool) {
	return c.Name, c.AlwaysInclude, c.ContextWindow, c.PricePerMillionIn(), c.PricePerMillionOut(), c.SupportsJSONSchema
}

// LLMProviderRegistry indexes providers by name.
type LLMProviderRegistry struct {
	byName map[string]*LLMProviderConfig
	order  []string
}

// NewLLMProviderRegistry builds a registry from a loaded provider list,
// preserving declaration order for deterministic listing.
func NewLLMProviderRegistry(providers []LLMProviderConfig) *LLMProviderRegistry {
	r := &LLMProviderRegistry{byName: make(map[string]*LLMProviderConfig, len(providers))}
	for i := range providers {
		p := providers[i]
		r.byName[p.Name] = &p
		r.order = append(r.order, p.Name)
	}
	return r
}

// Get returns a provider config by name.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return p, nil
}

// All returns every registered provider in declaration order.
func (r *LLMProviderRegistry) All() []*LLMProviderConfig {
	out := make([]*LLMProviderConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
