package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidFallbackProviders lists the recognised fallback tier implementations.
// Used by [Validate] to warn about unrecognised provider names.
var ValidFallbackProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Environment variable references of the form ${VAR} in the file
// are expanded before decoding, so API keys can stay out of the file itself.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	expanded := os.Expand(string(raw), func(name string) string {
		return os.Getenv(name)
	})

	cfg, err := LoadFromReader(bytes.NewReader([]byte(expanded)))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Providers
	if cfg.Providers.Gemini.APIKey == "" {
		errs = append(errs, errors.New("providers.gemini.api_key is required"))
	}
	seen := make(map[string]int, len(cfg.Providers.Fallbacks))
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[fb.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.fallbacks[%d]", prefix, fb.Name, prev))
			}
			seen[fb.Name] = i
		}
		if fb.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
		} else if !slices.Contains(ValidFallbackProviders, fb.Provider) {
			slog.Warn("unknown fallback provider, may be a typo",
				"name", fb.Name,
				"provider", fb.Provider,
				"known", ValidFallbackProviders,
			)
		}
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
	}
	if len(cfg.Providers.Fallbacks) == 0 {
		slog.Warn("no fallback providers configured; exhausted calls will resolve to snapshots and baselines only")
	}

	// Retry / breaker
	if cfg.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries %d must not be negative", cfg.Retry.MaxRetries))
	}
	if cfg.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay %v must not be negative", cfg.Retry.BaseDelay))
	}
	if cfg.Retry.MaxJitter < 0 {
		errs = append(errs, fmt.Errorf("retry.max_jitter %v must not be negative", cfg.Retry.MaxJitter))
	}
	if cfg.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("breaker.max_failures %d must not be negative", cfg.Breaker.MaxFailures))
	}
	if cfg.Breaker.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("breaker.cooldown %v must not be negative", cfg.Breaker.Cooldown))
	}

	// Snapshots
	if cfg.Snapshots.PostgresDSN == "" {
		slog.Warn("snapshots.postgres_dsn is empty; last-known-good snapshots will not survive restarts")
	}

	return errors.Join(errs...)
}
