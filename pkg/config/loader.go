package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnalyzerYAMLConfig represents the complete analyzer.yaml file structure.
type AnalyzerYAMLConfig struct {
	Store       *StoreYAMLConfig              `yaml:"store"`
	Defaults    *DefaultsYAMLConfig           `yaml:"defaults"`
	Concurrency *ConcurrencyConfig            `yaml:"concurrency"`
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// StoreYAMLConfig groups durable-store connection settings.
type StoreYAMLConfig struct {
	URL string `yaml:"url"` // empty => in-memory store
}

// DefaultsYAMLConfig groups system-wide defaults from YAML.
type DefaultsYAMLConfig struct {
	Model                 string `yaml:"model"`
	MaxFileSizeMB         int    `yaml:"max_file_size_mb"`
	MaxFiles              int    `yaml:"max_files"`
	MaxConcurrentAnalyses int    `yaml:"max_concurrent_analyses"`
	ParseDeadlineSeconds  int    `yaml:"parse_deadline_seconds"`
}

// defaultConcurrency mirrors spec §4.5/§5's fixed defaults.
func defaultConcurrency() ConcurrencyConfig {
	return ConcurrencyConfig{ParseWorkers: 5, ExtractWorkers: 5, ChunkExtractWorkers: 3}
}

// Load loads, merges, and validates configuration from configDir, applying
// environment-variable overrides for secrets (spec §6).
func Load(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration loaded", "llm_providers", stats.Providers)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadAnalyzerYAML()
	if err != nil {
		return nil, &LoadError{File: "analyzer.yaml", Err: err}
	}

	concurrency := defaultConcurrency()
	if yamlCfg.Concurrency != nil {
		if err := mergo.Merge(&concurrency, yamlCfg.Concurrency, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge concurrency config: %w", err)
		}
	}

	defaults := DefaultsYAMLConfig{
		Model:                 "gpt-4.1-mini",
		MaxFileSizeMB:         50,
		MaxFiles:              20,
		MaxConcurrentAnalyses: 10,
		ParseDeadlineSeconds:  120,
	}
	if yamlCfg.Defaults != nil {
		if err := mergo.Merge(&defaults, yamlCfg.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge defaults: %w", err)
		}
	}

	storeURL := ""
	if yamlCfg.Store != nil {
		storeURL = yamlCfg.Store.URL
	}

	providers := make([]LLMProviderConfig, 0, len(yamlCfg.LLMProviders))
	for name, p := range yamlCfg.LLMProviders {
		p.Name = name
		providers = append(providers, p)
	}

	return &Config{
		configDir:             configDir,
		StoreURL:              storeURL,
		DefaultModel:          defaults.Model,
		MaxFileSizeMB:         defaults.MaxFileSizeMB,
		MaxFiles:              defaults.MaxFiles,
		MaxConcurrentAnalyses: defaults.MaxConcurrentAnalyses,
		ParseDeadline:         time.Duration(defaults.ParseDeadlineSeconds) * time.Second,
		Concurrency:           concurrency,
		Providers:             NewLLMProviderRegistry(providers),
	}, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadAnalyzerYAML() (*AnalyzerYAMLConfig, error) {
	cfg := &AnalyzerYAMLConfig{LLMProviders: make(map[string]LLMProviderConfig)}
	if err := l.loadYAML("analyzer.yaml", cfg); err != nil {
		return nil, err
	}
	if cfg.LLMProviders == nil {
		cfg.LLMProviders = make(map[string]LLMProviderConfig)
	}
	return cfg, nil
}
