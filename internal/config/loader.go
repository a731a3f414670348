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
	"recognizer":  {"websocket", "mock"},
	"synthesizer": {"websocket", "espeak", "mock"},
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

	// Provider name validation — warn for unknown provider names.
	validateProviderName("recognizer", cfg.Providers.Recognizer.Name)
	validateProviderName("synthesizer", cfg.Providers.Synthesizer.Name)

	if cfg.Providers.Recognizer.Name == "" {
		errs = append(errs, errors.New("providers.recognizer.name is required"))
	}
	if cfg.Providers.Synthesizer.Name == "" {
		errs = append(errs, errors.New("providers.synthesizer.name is required"))
	}

	if v := cfg.Providers.Synthesizer.Voice; v.Rate != 0 && (v.Rate < 0.5 || v.Rate > 2.0) {
		errs = append(errs, fmt.Errorf("providers.synthesizer.voice.rate %.2f is out of range [0.5, 2.0]", v.Rate))
	}
	if v := cfg.Providers.Synthesizer.Voice; v.Pitch != 0 && (v.Pitch < 0.5 || v.Pitch > 2.0) {
		errs = append(errs, fmt.Errorf("providers.synthesizer.voice.pitch %.2f is out of range [0.5, 2.0]", v.Pitch))
	}

	// Dispatch
	d := cfg.Dispatch
	if d.MinConfidence < 0 || d.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("dispatch.min_confidence %.2f is out of range [0, 1]", d.MinConfidence))
	}
	if d.TokenSimilarity < 0 || d.TokenSimilarity > 1 {
		errs = append(errs, fmt.Errorf("dispatch.token_similarity %.2f is out of range [0, 1]", d.TokenSimilarity))
	}
	if d.MinScore < 0 {
		errs = append(errs, fmt.Errorf("dispatch.min_score %.2f must not be negative", d.MinScore))
	}
	if d.ScoreEpsilon < 0 {
		errs = append(errs, fmt.Errorf("dispatch.score_epsilon %.2f must not be negative", d.ScoreEpsilon))
	}
	if d.MinWords < 0 || d.MaxWords < 0 {
		errs = append(errs, errors.New("dispatch.min_words and dispatch.max_words must not be negative"))
	}
	if d.MinWords > 0 && d.MaxWords > 0 && d.MinWords > d.MaxWords {
		errs = append(errs, fmt.Errorf("dispatch.min_words %d exceeds dispatch.max_words %d", d.MinWords, d.MaxWords))
	}
	if d.SelectionTimeout < 0 {
		errs = append(errs, errors.New("dispatch.selection_timeout must not be negative"))
	}
	if d.ActionTimeout < 0 {
		errs = append(errs, errors.New("dispatch.action_timeout must not be negative"))
	}

	// Wake
	if cfg.Wake.Enabled && cfg.Wake.Phrase == "" {
		errs = append(errs, errors.New("wake.phrase is required when wake.enabled is true"))
	}
	if cfg.Wake.Window < 0 {
		errs = append(errs, errors.New("wake.window must not be negative"))
	}

	// Modules
	seen := make(map[string]int, len(cfg.Modules.Locations))
	for i, loc := range cfg.Modules.Locations {
		if loc == "" {
			errs = append(errs, fmt.Errorf("modules.locations[%d] is empty", i))
			continue
		}
		if prev, ok := seen[loc]; ok {
			errs = append(errs, fmt.Errorf("modules.locations[%d] %q duplicates modules.locations[%d]", i, loc, prev))
		}
		seen[loc] = i
	}
	if len(cfg.Modules.Locations) == 0 {
		slog.Warn("modules.locations is empty; no commands will be registered at startup")
	}

	if cfg.History.PostgresDSN == "" {
		slog.Debug("history.postgres_dsn is empty; dispatch history will not be recorded")
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
