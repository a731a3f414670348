// Package assistant wires all Vesper subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drains the recognizer and dispatches one utterance at a
// time, and Shutdown tears everything down in order.
//
// For testing, inject mock providers via the Providers struct and test
// doubles via functional options. When an option is not provided, New
// creates real implementations from the config.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/halvard/vesper/internal/action"
	"github.com/halvard/vesper/internal/command"
	"github.com/halvard/vesper/internal/command/match"
	"github.com/halvard/vesper/internal/config"
	"github.com/halvard/vesper/internal/dispatch"
	"github.com/halvard/vesper/internal/history"
	"github.com/halvard/vesper/internal/module"
	"github.com/halvard/vesper/internal/observe"
	"github.com/halvard/vesper/internal/transcript"
	"github.com/halvard/vesper/pkg/provider/recognizer"
	"github.com/halvard/vesper/pkg/provider/synthesizer"
	"github.com/halvard/vesper/pkg/types"
)

// Providers holds one interface value per provider slot. Both are required;
// they are populated by main.go via the config registry.
type Providers struct {
	Recognizer  recognizer.Provider
	Synthesizer synthesizer.Provider
}

// App owns all subsystem lifetimes and runs the listen-dispatch loop.
type App struct {
	cfg       *config.Config
	providers *Providers

	registry *command.Registry
	actions  *action.Registry
	invoker  *action.Invoker
	loader   *module.Loader
	hist     *history.Store
	metrics  *observe.Metrics
	voice    types.VoiceProfile

	// engine is swapped atomically when a config change rebuilds the
	// dispatch knobs; the listen loop picks up the new engine on the next
	// utterance.
	engine atomic.Pointer[dispatch.Engine]

	engineOpts []dispatch.Option

	session recognizer.Session

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistory injects a dispatch-history store instead of connecting one
// from config.
func WithHistory(s *history.Store) Option {
	return func(a *App) { a.hist = s }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithEngineOptions forwards options to the dispatch engine, e.g. a fake
// clock or connectivity probe in tests.
func WithEngineOptions(opts ...dispatch.Option) Option {
	return func(a *App) { a.engineOpts = append(a.engineOpts, opts...) }
}

// New creates an App by wiring all subsystems together: command registry,
// action registry and invoker, module loader, optional history store, and
// the dispatch engine. Module locations from the config are loaded before
// New returns, so a broken module surfaces at startup rather than at first
// use; load failures are logged per module and do not abort startup.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Recognizer == nil || providers.Synthesizer == nil {
		return nil, errors.New("assistant: recognizer and synthesizer providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		registry:  command.NewRegistry(),
		actions:   action.NewRegistry(),
		voice: types.VoiceProfile{
			ID:    cfg.Providers.Synthesizer.Voice.ID,
			Rate:  cfg.Providers.Synthesizer.Voice.Rate,
			Pitch: cfg.Providers.Synthesizer.Voice.Pitch,
		},
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	var invokerOpts []action.InvokerOption
	if cfg.Dispatch.ActionTimeout > 0 {
		invokerOpts = append(invokerOpts, action.WithTimeout(cfg.Dispatch.ActionTimeout.Std()))
	}
	a.invoker = action.NewInvoker(invokerOpts...)

	// Pattern literals and transcripts must agree on filler words and
	// number folding, so the loader normalizes with the engine's settings.
	loaderOpts := []module.Option{
		module.WithNormalizer(a.normalizer(cfg)),
		module.WithMetrics(a.metrics),
	}
	if cfg.Modules.BackupRoot != "" {
		loaderOpts = append(loaderOpts, module.WithBackupRoot(cfg.Modules.BackupRoot))
	}
	a.loader = module.NewLoader(a.registry, a.actions, loaderOpts...)

	if a.hist == nil && cfg.History.PostgresDSN != "" {
		hist, err := history.New(ctx, cfg.History.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("assistant: connect history store: %w", err)
		}
		a.hist = hist
		a.closers = append(a.closers, func() error { hist.Close(); return nil })
	}

	a.registerBuiltins()

	if err := a.loader.DiscoverAll(cfg.Modules.Locations); err != nil {
		// One broken module must not block the rest; the loader already
		// skipped it and kept the registry consistent.
		slog.Warn("some modules failed to load", "err", err)
	}

	eng, err := a.buildEngine(cfg)
	if err != nil {
		return nil, err
	}
	a.engine.Store(eng)

	return a, nil
}

// normalizer builds the transcript normalizer for cfg's filler settings.
func (a *App) normalizer(cfg *config.Config) *transcript.Normalizer {
	var normOpts []transcript.Option
	if len(cfg.Dispatch.Fillers) > 0 {
		normOpts = append(normOpts, transcript.WithFillers(cfg.Dispatch.Fillers))
	}
	return transcript.New(normOpts...)
}

// buildEngine constructs a dispatch engine from the config's dispatch and
// wake sections.
func (a *App) buildEngine(cfg *config.Config) (*dispatch.Engine, error) {
	eng, err := dispatch.New(
		dispatch.Config{
			MinConfidence:    cfg.Dispatch.MinConfidence,
			MinWords:         cfg.Dispatch.MinWords,
			MaxWords:         cfg.Dispatch.MaxWords,
			SelectionTimeout: cfg.Dispatch.SelectionTimeout.Std(),
			CancelPhrases:    cfg.Dispatch.CancelPhrases,
			Wake: dispatch.WakeConfig{
				Enabled: cfg.Wake.Enabled,
				Phrase:  cfg.Wake.Phrase,
				Window:  cfg.Wake.Window.Std(),
			},
		},
		dispatch.Deps{
			Registry: a.registry,
			Matcher: match.New(match.Config{
				MinScore:         cfg.Dispatch.MinScore,
				Epsilon:          cfg.Dispatch.ScoreEpsilon,
				UnmatchedPenalty: cfg.Dispatch.UnmatchedPenalty,
				RunBonus:         cfg.Dispatch.RunBonus,
				TokenSimilarity:  cfg.Dispatch.TokenSimilarity,
			}),
			Actions:    a.actions,
			Invoker:    a.invoker,
			Speaker:    a.speaker(),
			Normalizer: a.normalizer(cfg),
			History:    a.hist,
			Metrics:    a.metrics,
		},
		a.engineOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("assistant: build dispatch engine: %w", err)
	}
	return eng, nil
}

// speaker adapts the synthesizer provider and the configured voice profile
// to the engine's Speaker interface.
func (a *App) speaker() dispatch.Speaker {
	return speakerFunc(func(ctx context.Context, text string) error {
		return a.providers.Synthesizer.Speak(ctx, text, a.voice)
	})
}

type speakerFunc func(ctx context.Context, text string) error

func (f speakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// Run opens the recognition session and processes finalized utterances in
// arrival order, one logical turn at a time, until ctx is cancelled or the
// recognizer stream ends.
func (a *App) Run(ctx context.Context) error {
	sess, err := a.providers.Recognizer.Listen(ctx, recognizer.StreamConfig{
		Language: a.cfg.Providers.Recognizer.Language,
		Keywords: a.registry.Snapshot().Names(),
	})
	if err != nil {
		return fmt.Errorf("assistant: open recognition session: %w", err)
	}
	a.session = sess

	if a.cfg.Launch.WelcomeEnabled && a.cfg.Launch.WelcomeMessage != "" {
		if err := a.providers.Synthesizer.Speak(ctx, a.cfg.Launch.WelcomeMessage, a.voice); err != nil {
			slog.Warn("failed to speak welcome message", "err", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		g.Go(func() error {
			return observe.ServeMetrics(ctx, addr)
		})
	}

	g.Go(func() error {
		defer sess.Close()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tr, ok := <-sess.Finals():
				if !ok {
					return errors.New("assistant: recognition stream ended")
				}
				turnCtx, span := observe.StartTurn(ctx, len(strings.Fields(tr.Text)))
				disp := a.engine.Load().Dispatch(turnCtx, tr)
				observe.EndTurn(span, disp.Kind.String())
				slog.Debug("utterance dispatched",
					"text", tr.Text,
					"kind", disp.Kind.String(),
					"command", disp.Command,
				)
			}
		}
	})

	slog.Info("assistant listening",
		"commands", a.registry.Snapshot().Len(),
		"modules", len(a.loader.Modules()),
	)
	return g.Wait()
}

// ApplyConfigChange is the watcher callback: it applies hot-reloadable
// changes from a freshly validated config. Dispatch knob changes rebuild
// the engine; module location changes load and remove modules; provider
// changes are ignored with a warning since they require a restart.
func (a *App) ApplyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	if d.DispatchChanged || d.WakeChanged {
		eng, err := a.buildEngine(new)
		if err != nil {
			slog.Error("failed to apply new dispatch settings, keeping previous", "err", err)
		} else {
			a.engine.Store(eng)
			slog.Info("dispatch settings reloaded")
		}
	}

	for _, loc := range d.ModulesAdded {
		if err := a.loader.DiscoverAll([]string{loc}); err != nil {
			slog.Warn("failed to load added module location", "location", loc, "err", err)
		}
	}
	for _, loc := range d.ModulesRemoved {
		for _, info := range a.loader.Modules() {
			if within(loc, info.Source) {
				if err := a.loader.Remove(info.Name); err != nil {
					slog.Warn("failed to remove module", "module", info.Name, "err", err)
				}
			}
		}
	}

	if !providersEqual(old.Providers, new.Providers) {
		slog.Warn("provider configuration changed; restart required to apply")
	}

	a.cfg = new
}

// Shutdown tears the assistant down: speaks the shutdown message, cancels
// any running action, closes the recognition session and the history store.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if msg := a.cfg.Launch.ShutdownMessage; msg != "" {
			if err := a.providers.Synthesizer.Speak(ctx, msg, a.voice); err != nil {
				slog.Warn("failed to speak shutdown message", "err", err)
			}
		}
		a.invoker.Cancel()
		if a.session != nil {
			if err := a.session.Close(); err != nil {
				errs = append(errs, fmt.Errorf("assistant: close session: %w", err))
			}
		}
		for _, closer := range a.closers {
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}
		slog.Info("assistant stopped")
	})
	return errors.Join(errs...)
}

// Loader exposes the module loader for the reload/backup builtin actions
// and for operational tooling.
func (a *App) Loader() *module.Loader { return a.loader }

// Registry exposes the command registry snapshot source.
func (a *App) Registry() *command.Registry { return a.registry }

// within reports whether path sits under dir.
func within(dir, path string) bool {
	return path == dir || len(path) > len(dir) && path[:len(dir)] == dir && path[len(dir)] == '/'
}

func providersEqual(a, b config.ProvidersConfig) bool {
	return a.Recognizer.Name == b.Recognizer.Name &&
		a.Recognizer.Endpoint == b.Recognizer.Endpoint &&
		a.Synthesizer.Name == b.Synthesizer.Name &&
		a.Synthesizer.Endpoint == b.Synthesizer.Endpoint
}
