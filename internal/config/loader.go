package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"recognizer": {"rulebased", "llm", "mock"},
	"llm":        {"openai", "anyllm"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
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
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("recognizer", cfg.Recognizer.Name)
	validateProviderName("llm", cfg.Recognizer.LLM.Name)

	// Recognizer ↔ LLM cross-validation
	if cfg.Recognizer.Name == "llm" && cfg.Recognizer.LLM.Name == "" {
		errs = append(errs, errors.New("recognizer.name \"llm\" requires recognizer.llm to be configured"))
	}

	// Pipeline
	if cfg.Pipeline.RecognizerTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.recognizer_timeout %v is negative", cfg.Pipeline.RecognizerTimeout.Std()))
	}

	// Gazetteer thresholds
	gaz := cfg.Lexicons.Gazetteer
	if gaz.PhoneticThreshold < 0 || gaz.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("lexicons.gazetteer.phonetic_threshold %.2f is out of range [0, 1]", gaz.PhoneticThreshold))
	}
	if gaz.FuzzyThreshold < 0 || gaz.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("lexicons.gazetteer.fuzzy_threshold %.2f is out of range [0, 1]", gaz.FuzzyThreshold))
	}

	// Marker lexicon sanity: single-word markers that are also stopwords
	// would make the fallback skip its own marker.
	for _, m := range cfg.Resolver.Markers {
		if m == "" {
			errs = append(errs, errors.New("resolver.markers contains an empty phrase"))
		}
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; processed results will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
