package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/halvard/vesper/internal/action"
	"github.com/halvard/vesper/internal/command"
	"github.com/halvard/vesper/internal/observe"
	"github.com/halvard/vesper/internal/transcript"
)

// declarationFile is the fixed name of a module's declaration document
// inside its directory.
const declarationFile = "module.yaml"

// ErrUnknownModule is returned for operations on a module the loader has
// never successfully loaded.
var ErrUnknownModule = errors.New("module: unknown module")

// Loader loads, reloads, backs up, and restores command modules.
//
// The loader is the registry's single writer: all Register/Unregister calls
// flow through it, serialized by its mutex, so readers of the registry
// snapshot never race a half-applied module swap.
type Loader struct {
	registry *command.Registry
	actions  *action.Registry
	norm     *transcript.Normalizer
	metrics  *observe.Metrics

	backupRoot string

	mu      sync.Mutex
	modules map[string]*state
}

// state is the loader's bookkeeping for one loaded module.
type state struct {
	name       string
	source     string
	fileSource bool // source is a bare declaration file, not a directory
	commands   []string
	scripts    []string // action-registry names of this module's script actions
	loadedAt   time.Time
}

// Option is a functional option for [NewLoader].
type Option func(*Loader)

// WithBackupRoot sets the directory backups are written under.
// Default: "backups" relative to the working directory.
func WithBackupRoot(dir string) Option {
	return func(l *Loader) {
		if dir != "" {
			l.backupRoot = dir
		}
	}
}

// WithNormalizer sets the transcript normalizer that declared pattern
// literals are rewritten through, so patterns and utterances agree on
// filler words and number folding. Pass the same normalizer the dispatch
// engine uses. Default: a normalizer with the stock filler set.
func WithNormalizer(n *transcript.Normalizer) Option {
	return func(l *Loader) {
		if n != nil {
			l.norm = n
		}
	}
}

// WithMetrics sets the metrics instance load, reload, and backup
// operations are recorded on. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loader) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLoader creates a [Loader] writing through the given registries.
func NewLoader(reg *command.Registry, actions *action.Registry, opts ...Option) *Loader {
	l := &Loader{
		registry:   reg,
		actions:    actions,
		norm:       transcript.New(),
		metrics:    observe.DefaultMetrics(),
		backupRoot: "backups",
		modules:    make(map[string]*state),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load reads the module at source, validates every declaration, and merges
// the module into the registry atomically. source is a module directory
// containing module.yaml (a bare .yaml file path is also accepted for
// script-free modules).
//
// On any validation failure nothing is registered and a [*LoadError]
// identifies the offending declaration. Loading a module whose logical name
// is already loaded from a different source fails.
func (l *Loader) Load(source string) (*Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(source)
}

func (l *Loader) loadLocked(source string) (info *Info, err error) {
	defer func() {
		name := source
		if info != nil {
			name = info.Name
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		l.metrics.RecordModuleReload(context.Background(), name, status)
	}()

	dir, declPath, err := resolveSource(source)
	if err != nil {
		return nil, &LoadError{Module: source, Err: err}
	}

	data, err := os.ReadFile(declPath)
	if err != nil {
		return nil, &LoadError{Module: source, Err: fmt.Errorf("read declaration: %w", err)}
	}
	f, err := decodeFile(data)
	if err != nil {
		return nil, &LoadError{Module: source, Err: err}
	}
	if strings.TrimSpace(f.Name) == "" {
		return nil, &LoadError{Module: source, Err: errors.New("module name is required")}
	}
	if prev, ok := l.modules[f.Name]; ok && prev.source != source {
		return nil, &LoadError{Module: f.Name, Err: fmt.Errorf("already loaded from %q", prev.source)}
	}
	if len(f.Commands) == 0 {
		return nil, &LoadError{Module: f.Name, Err: errors.New("module declares no commands")}
	}

	// --- Validation gate: build every definition before touching state ---
	defs := make([]*command.Definition, 0, len(f.Commands))
	type scriptBinding struct {
		name string
		fn   action.Func
	}
	var scripts []scriptBinding

	for _, decl := range f.Commands {
		def, scriptPath, err := buildDefinition(f.Name, decl, l.norm)
		if err != nil {
			return nil, &LoadError{Module: f.Name, Decl: decl.Name, Err: err}
		}

		if scriptPath != "" {
			abs := filepath.Join(dir, filepath.FromSlash(scriptPath))
			fn, err := compileScript(abs)
			if err != nil {
				return nil, &LoadError{Module: f.Name, Decl: decl.Name, Err: fmt.Errorf("script %q: %w", scriptPath, err)}
			}
			def.Action = scriptActionName(f.Name, scriptPath)
			def.Script = true
			scripts = append(scripts, scriptBinding{name: def.Action, fn: fn})
		} else if !l.actions.Has(def.Action) {
			return nil, &LoadError{Module: f.Name, Decl: decl.Name, Err: fmt.Errorf("%w: %q", action.ErrUnknownAction, def.Action)}
		}

		if err := def.Validate(); err != nil {
			return nil, &LoadError{Module: f.Name, Decl: decl.Name, Err: err}
		}
		defs = append(defs, def)
	}

	// --- Commit: script actions first, then the atomic registry merge ---
	for _, s := range scripts {
		l.actions.Register(s.name, s.fn)
	}
	before := l.registry.Snapshot().Len()
	if err := l.registry.Register(f.Name, defs); err != nil {
		for _, s := range scripts {
			l.actions.Unregister(s.name)
		}
		return nil, err
	}
	l.metrics.RegisteredCommands.Add(context.Background(),
		int64(l.registry.Snapshot().Len()-before))

	// Script actions from the previous version that vanished in this one.
	if prev, ok := l.modules[f.Name]; ok {
		kept := make(map[string]struct{}, len(scripts))
		for _, s := range scripts {
			kept[s.name] = struct{}{}
		}
		for _, old := range prev.scripts {
			if _, still := kept[old]; !still {
				l.actions.Unregister(old)
			}
		}
	}

	st := &state{
		name:       f.Name,
		source:     source,
		fileSource: declPath == source,
		loadedAt:   time.Now(),
	}
	for _, d := range defs {
		st.commands = append(st.commands, d.Name)
	}
	sort.Strings(st.commands)
	for _, s := range scripts {
		st.scripts = append(st.scripts, s.name)
	}
	l.modules[f.Name] = st

	slog.Info("module loaded", "module", f.Name, "source", source, "commands", len(defs))
	return l.infoLocked(f.Name), nil
}

// Reload re-reads an already-known module from its recorded source. A
// backup is taken first so a misbehaving new version can be rolled back via
// [Loader.Restore]. The registry swap is atomic: concurrent lookups observe
// either the fully-old or the fully-new command set.
func (l *Loader) Reload(moduleID string) (*Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}

	if _, err := l.backupLocked(moduleID, false); err != nil {
		slog.Warn("pre-reload backup failed", "module", moduleID, "err", err)
	}

	info, err := l.loadLocked(st.source)
	if err != nil {
		// Validation failed before any registry change; the previous
		// version remains fully live.
		return nil, err
	}
	return info, nil
}

// Remove unregisters all of the module's commands and forgets it. Used when
// a module is explicitly removed or rolled back out.
func (l *Loader) Remove(moduleID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.modules[moduleID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}
	before := l.registry.Snapshot().Len()
	l.registry.Unregister(moduleID)
	l.metrics.RegisteredCommands.Add(context.Background(),
		int64(l.registry.Snapshot().Len()-before))
	for _, s := range st.scripts {
		l.actions.Unregister(s)
	}
	delete(l.modules, moduleID)
	slog.Info("module removed", "module", moduleID)
	return nil
}

// DiscoverAll loads every module found under the given locations. Each
// entry is either a module directory or a directory of module directories.
// Failures are joined and returned after every loadable module has been
// tried, so one broken module never blocks the rest.
func (l *Loader) DiscoverAll(locations []string) error {
	var errs []error
	for _, loc := range locations {
		sources, err := discover(loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, src := range sources {
			if _, err := l.Load(src); err != nil {
				slog.Warn("module rejected", "source", src, "err", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Modules returns info for every loaded module, sorted by name.
func (l *Loader) Modules() []Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.modules))
	for n := range l.modules {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Info, 0, len(names))
	for _, n := range names {
		out = append(out, *l.infoLocked(n))
	}
	return out
}

func (l *Loader) infoLocked(name string) *Info {
	st := l.modules[name]
	cmds := make([]string, len(st.commands))
	copy(cmds, st.commands)
	return &Info{
		Name:     st.name,
		Source:   st.source,
		Commands: cmds,
		LoadedAt: st.loadedAt,
	}
}

// buildDefinition converts one declaration into a registry definition.
// Pattern literals pass through norm so declared patterns line up with
// normalized transcripts. The returned scriptPath is non-empty for
// script-backed commands; the caller compiles and namespaces it.
func buildDefinition(moduleName string, decl Declaration, norm *transcript.Normalizer) (*command.Definition, string, error) {
	if strings.TrimSpace(decl.Name) == "" {
		return nil, "", errors.New("command name is required")
	}
	if (decl.Action == "") == (decl.Script == "") {
		return nil, "", errors.New("exactly one of action or script is required")
	}
	if decl.Script != "" {
		if filepath.IsAbs(decl.Script) || strings.Contains(decl.Script, "..") {
			return nil, "", fmt.Errorf("script path %q must be module-relative", decl.Script)
		}
	}

	def := &command.Definition{
		Name:     decl.Name,
		Module:   moduleName,
		Action:   decl.Action,
		Response: decl.Response,
		Flags: command.Flags{
			Sensitive: decl.Sensitive,
			Online:    decl.Online,
			Notify:    decl.Notify,
		},
	}
	for _, p := range decl.Params {
		def.Params = append(def.Params, p.paramSpec())
	}
	for _, src := range decl.Patterns {
		pat, err := command.ParsePattern(src)
		if err != nil {
			return nil, "", fmt.Errorf("pattern %q: %w", src, err)
		}
		def.Patterns = append(def.Patterns, pat.NormalizeLiterals(norm.Normalize))
	}
	return def, decl.Script, nil
}

// scriptActionName builds the namespaced action-registry key for a module
// script.
func scriptActionName(moduleName, scriptPath string) string {
	return "script/" + moduleName + "/" + filepath.ToSlash(scriptPath)
}

// resolveSource maps a source location to its module directory and
// declaration file path.
func resolveSource(source string) (dir, declPath string, err error) {
	fi, err := os.Stat(source)
	if err != nil {
		return "", "", err
	}
	if fi.IsDir() {
		return source, filepath.Join(source, declarationFile), nil
	}
	return filepath.Dir(source), source, nil
}

// discover lists module sources under a location: the location itself when
// it holds a module.yaml, otherwise each child directory that does.
func discover(location string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(location, declarationFile)); err == nil {
		return []string{location}, nil
	}
	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, fmt.Errorf("module: discover %q: %w", location, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := filepath.Join(location, e.Name())
		if _, err := os.Stat(filepath.Join(child, declarationFile)); err == nil {
			out = append(out, child)
		}
	}
	return out, nil
}
