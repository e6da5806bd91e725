// Package config loads and validates the analyzer's configuration: model
// defaults, per-stage concurrency caps, the LLM provider registry, and
// store connection settings (spec §6's environment variables plus the
// thinking budgets and chunking envelope of §4.2/§4.4).
package config

import "time"

// Config is the umbrella configuration object returned by Load and passed
// by reference to the Engine and its collaborators, per SPEC_FULL's
// module-singleton design note (one Config, constructed once, shared by
// reference rather than read from a process-wide global).
type Config struct {
	configDir string

	// StoreURL is the durable store's connection string. Empty selects the
	// in-memory store (spec §6).
	StoreURL string

	// DefaultModel is used when createAnalysis omits one.
	DefaultModel string

	// MaxFileSizeMB bounds a single uploaded file.
	MaxFileSizeMB int
	// MaxFiles bounds the number of files accepted per analysis.
	MaxFiles int
	// MaxConcurrentAnalyses bounds how many analyses run at once process-wide.
	MaxConcurrentAnalyses int

	// ParseDeadline bounds a single document conversion (spec §5).
	ParseDeadline time.Duration

	Concurrency ConcurrencyConfig

	Providers *LLMProviderRegistry
}

// ConcurrencyConfig holds the per-stage worker pool sizes of spec §4.5/§5.
// These are constructor parameters, not globally overridable at runtime:
// SPEC_FULL's Open Question resolution keeps concurrency fixed at
// configuration time rather than exposing a request-time override.
type ConcurrencyConfig struct {
	ParseWorkers        int // default 5
	ExtractWorkers      int // default 5
	ChunkExtractWorkers int // default 3 (inner, per document)
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes the loaded configuration for logging at startup.
type Stats struct {
	Providers int
}

func (c *Config) Stats() Stats {
	return Stats{Providers: len(c.Providers.All())}
}

// GetProvider retrieves an LLM provider configuration by name.
func (c *Config) GetProvider(name string) (*LLMProviderConfig, error) {
	return c.Providers.Get(name)
}
