// Package action defines the invocation boundary between the dispatch
// engine and command implementations.
//
// Actions are plain functions with a fixed signature; modules reference them
// by name (builtins) or provide Lua scripts that the module loader wraps
// into the same signature. The [Invoker] guards every call: panics are
// recovered, a configurable timeout applies, and only one action runs at a
// time — a command arriving mid-execution is rejected with [ErrBusy] rather
// than interleaved.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Func is the fixed action signature every command implementation must
// satisfy. The returned string, when non-empty, is spoken back to the user.
type Func func(ctx context.Context, params map[string]any) (string, error)

// ErrBusy is returned by [Invoker.Start] while another action is running.
var ErrBusy = errors.New("action: another action is still running")

// ErrUnknownAction is returned when a command references an unregistered
// builtin action name.
var ErrUnknownAction = errors.New("action: unknown action")

// ExecutionError wraps a failure raised by an action. The spoken report is a
// generic "the command failed"; the full cause is retained here for logging.
type ExecutionError struct {
	// Command is the command whose action failed.
	Command string

	// Cause is the underlying failure.
	Cause error

	// TimedOut marks failures caused by the action exceeding its deadline.
	TimedOut bool

	// Panicked marks failures recovered from a panic inside the action.
	Panicked bool
}

func (e *ExecutionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("action: %q timed out: %v", e.Command, e.Cause)
	case e.Panicked:
		return fmt.Sprintf("action: %q panicked: %v", e.Command, e.Cause)
	default:
		return fmt.Sprintf("action: %q failed: %v", e.Command, e.Cause)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Registry maps builtin action names to their implementations. It is safe
// for concurrent use. Module-provided Lua scripts do not live here — the
// module loader compiles them into [Func] values directly.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register registers fn under name. Subsequent calls with the same name
// overwrite the previous registration.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Resolve returns the action registered under name.
// Returns [ErrUnknownAction] when no action has been registered for name.
func (r *Registry) Resolve(name string) (Func, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return fn, nil
}

// Unregister removes the action registered under name, if any. Used by the
// module loader when a module's script actions are replaced or removed.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.funcs, name)
}

// Has reports whether name resolves to a registered action.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Names returns the sorted registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
