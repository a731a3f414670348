// Command vesper is the main entry point for the Vesper voice assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/halvard/vesper/internal/assistant"
	"github.com/halvard/vesper/internal/config"
	"github.com/halvard/vesper/internal/observe"
	"github.com/halvard/vesper/pkg/provider/recognizer"
	recognizermock "github.com/halvard/vesper/pkg/provider/recognizer/mock"
	recognizerws "github.com/halvard/vesper/pkg/provider/recognizer/ws"
	"github.com/halvard/vesper/pkg/provider/synthesizer"
	"github.com/halvard/vesper/pkg/provider/synthesizer/espeak"
	synthesizermock "github.com/halvard/vesper/pkg/provider/synthesizer/mock"
	synthesizerws "github.com/halvard/vesper/pkg/provider/synthesizer/ws"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := pflag.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	checkOnly := pflag.Bool("check", false, "validate the configuration and exit")
	pflag.Parse()

	// .env is optional; real environments set variables directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "vesper: load .env: %v\n", err)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vesper: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vesper: %v\n", err)
		}
		return 1
	}
	if *checkOnly {
		fmt.Println("configuration is valid")
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("vesper starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vesper",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	app, err := assistant.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise assistant", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if old.Server.LogLevel != new.Server.LogLevel {
			level.Set(slogLevel(new.Server.LogLevel))
			slog.Info("log level changed", "level", new.Server.LogLevel)
		}
		app.ApplyConfigChange(old, new)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("assistant ready — press Ctrl+C to shut down")

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterRecognizer("websocket", func(entry config.ProviderEntry) (recognizer.Provider, error) {
		var opts []recognizerws.Option
		if token := providerToken(entry); token != "" {
			opts = append(opts, recognizerws.WithToken(token))
		}
		return recognizerws.New(entry.Endpoint, opts...)
	})

	reg.RegisterSynthesizer("websocket", func(entry config.ProviderEntry) (synthesizer.Provider, error) {
		var opts []synthesizerws.Option
		if token := providerToken(entry); token != "" {
			opts = append(opts, synthesizerws.WithToken(token))
		}
		return synthesizerws.New(entry.Endpoint, opts...)
	})

	// Mock providers are registered so a config can run the assistant
	// headless, without audio hardware or remote services.
	reg.RegisterRecognizer("mock", func(config.ProviderEntry) (recognizer.Provider, error) {
		return &recognizermock.Provider{Session: recognizermock.NewSession(8)}, nil
	})
	reg.RegisterSynthesizer("mock", func(config.ProviderEntry) (synthesizer.Provider, error) {
		return &synthesizermock.Provider{}, nil
	})

	reg.RegisterSynthesizer("espeak", func(entry config.ProviderEntry) (synthesizer.Provider, error) {
		var opts []espeak.Option
		if bin := optString(entry.Options, "binary"); bin != "" {
			opts = append(opts, espeak.WithBinary(bin))
		}
		if entry.Voice.ID != "" {
			opts = append(opts, espeak.WithDefaultVoice(entry.Voice.ID))
		}
		return espeak.New(opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*assistant.Providers, error) {
	ps := &assistant.Providers{}

	rec, err := reg.CreateRecognizer(cfg.Providers.Recognizer)
	if err != nil {
		return nil, fmt.Errorf("create recognizer %q: %w", cfg.Providers.Recognizer.Name, err)
	}
	ps.Recognizer = rec
	slog.Info("provider created", "kind", "recognizer", "name", cfg.Providers.Recognizer.Name)

	syn, err := reg.CreateSynthesizer(cfg.Providers.Synthesizer)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer %q: %w", cfg.Providers.Synthesizer.Name, err)
	}
	ps.Synthesizer = syn
	slog.Info("provider created", "kind", "synthesizer", "name", cfg.Providers.Synthesizer.Name)

	return ps, nil
}

// providerToken resolves the provider token, letting an environment variable
// named in options.token_env override the literal config value.
func providerToken(entry config.ProviderEntry) string {
	if envName := optString(entry.Options, "token_env"); envName != "" {
		if v := os.Getenv(envName); v != "" {
			return v
		}
	}
	return entry.Token
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
