package config

// Validate checks a loaded Config for consistency, collecting every
// violation it finds rather than stopping at the first one.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if cfg.DefaultModel == "" {
		errs = append(errs, &ValidationError{
			Component: "defaults", ID: "model", Field: "model", Err: ErrMissingRequiredField,
		})
	}
	if cfg.MaxFileSizeMB <= 0 {
		errs = append(errs, &ValidationError{
			Component: "defaults", ID: "max_file_size_mb", Field: "max_file_size_mb", Err: ErrInvalidValue,
		})
	}
	if cfg.MaxFiles <= 0 {
		errs = append(errs, &ValidationError{
			Component: "defaults", ID: "max_files", Field: "max_files", Err: ErrInvalidValue,
		})
	}
	if cfg.Concurrency.ParseWorkers <= 0 {
		errs = append(errs, &ValidationError{
			Component: "concurrency", ID: "parse_workers", Field: "parse_workers", Err: ErrInvalidValue,
		})
	}
	if cfg.Concurrency.ExtractWorkers <= 0 {
		errs = append(errs, &ValidationError{
			Component: "concurrency", ID: "extract_workers", Field: "extract_workers", Err: ErrInvalidValue,
		})
	}
	if cfg.Concurrency.ChunkExtractWorkers <= 0 {
		errs = append(errs, &ValidationError{
			Component: "concurrency", ID: "chunk_extract_workers", Field: "chunk_extract_workers", Err: ErrInvalidValue,
		})
	}

	for _, p := range cfg.Providers.All() {
		if p.BaseURL == "" {
			errs = append(errs, &ValidationError{
				Component: "llm_provider", ID: p.Name, Field: "base_url", Err: ErrMissingRequiredField,
			})
		}
		if p.APIKeyEnv == "" {
			errs = append(errs, &ValidationError{
				Component: "llm_provider", ID: p.Name, Field: "api_key_env", Err: ErrMissingRequiredField,
			})
		}
		if p.Family != FamilyStrictSchema && p.Family != FamilyJSONObjectOnly {
			errs = append(errs, &ValidationError{
				Component: "llm_provider", ID: p.Name, Field: "family", Err: ErrInvalidValue,
			})
		}
		if p.ContextWindow <= 0 {
			errs = append(errs, &ValidationError{
				Component: "llm_provider", ID: p.Name, Field: "context_window", Err: ErrInvalidValue,
			})
		}
	}

	if len(cfg.Providers.All()) == 0 {
		errs = append(errs, &ValidationError{
			Component: "llm_providers", ID: "*", Field: "", Err: ErrMissingRequiredField,
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
