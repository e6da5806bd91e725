package llm

import (
	"sort"
	"strings"
)

// modelSearchCap is the "at most 50" bound spec §4.2 puts on the free-text
// search flavor of model listing.
const modelSearchCap = 50

// ModelInfo is one entry in the model listing spec §4.2's /models endpoint
// returns: the provider's name, context window, and pricing converted to
// the conventional per-million-token figure.
type ModelInfo struct {
	Name               string  `json:"name"`
	ContextWindow      int     `json:"context_window"`
	PricePerMillionIn  float64 `json:"price_per_million_in"`
	PricePerMillionOut float64 `json:"price_per_million_out"`
	SupportsJSONSchema bool    `json:"supports_json_schema"`
}

// providerConfig is the subset of pkg/config.LLMProviderConfig the model
// listing needs, kept narrow so this package doesn't import pkg/config
// for its whole surface.
type providerConfig interface {
	GetNameWindowPricing() (name string, alwaysInclude bool, contextWindow int, priceIn, priceOut float64, supportsSchema bool)
}

// orderedModelInfo carries alwaysInclude alongside a ModelInfo only long
// enough to sort the filtered flavor; it never reaches callers.
type orderedModelInfo struct {
	ModelInfo
	alwaysInclude bool
}

func modelInfo(name string, always bool, window int, priceIn, priceOut float64, supportsSchema bool) orderedModelInfo {
	return orderedModelInfo{
		ModelInfo: ModelInfo{
			Name:               name,
			ContextWindow:      window,
			PricePerMillionIn:  priceIn,
			PricePerMillionOut: priceOut,
			SupportsJSONSchema: supportsSchema,
		},
		alwaysInclude: always,
	}
}

func stripOrdering(in []orderedModelInfo) []ModelInfo {
	out := make([]ModelInfo, len(in))
	for i, m := range in {
		out[i] = m.ModelInfo
	}
	return out
}

// ListModels dispatches to spec §4.2's two listing flavors: an empty query
// returns the filtered list (schema-supporting models plus the baked-in
// allowlist); a non-empty query searches every provider by name instead.
func ListModels(providers []providerConfig, query string) []ModelInfo {
	query = strings.TrimSpace(query)
	if query == "" {
		return FilteredModels(providers)
	}
	return SearchModels(providers, query)
}

// FilteredModels returns every provider that either advertises JSON-schema
// support or belongs to the baked-in "always include" allowlist, ordered
// allowlist members first, then by name (spec §4.2).
func FilteredModels(providers []providerConfig) []ModelInfo {
	matched := make([]orderedModelInfo, 0, len(providers))
	for _, p := range providers {
		name, always, window, priceIn, priceOut, supportsSchema := p.GetNameWindowPricing()
		if !always && !supportsSchema {
			continue
		}
		matched = append(matched, modelInfo(name, always, window, priceIn, priceOut, supportsSchema))
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].alwaysInclude != matched[j].alwaysInclude {
			return matched[i].alwaysInclude
		}
		return matched[i].Name < matched[j].Name
	})
	return stripOrdering(matched)
}

// SearchModels matches query as a case-insensitive substring against every
// provider's name regardless of schema support or allowlist membership,
// capped at modelSearchCap results and ordered by name (spec §4.2).
func SearchModels(providers []providerConfig, query string) []ModelInfo {
	query = strings.ToLower(query)
	matched := make([]orderedModelInfo, 0, len(providers))
	for _, p := range providers {
		name, always, window, priceIn, priceOut, supportsSchema := p.GetNameWindowPricing()
		if !strings.Contains(strings.ToLower(name), query) {
			continue
		}
		matched = append(matched, modelInfo(name, always, window, priceIn, priceOut, supportsSchema))
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	if len(matched) > modelSearchCap {
		matched = matched[:modelSearchCap]
	}
	return stripOrdering(matched)
}
