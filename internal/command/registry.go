package command

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// RegistrationConflictError reports a cross-module command name collision.
// Registration of the incoming module is rejected in full.
type RegistrationConflictError struct {
	// Name is the colliding command name.
	Name string

	// Existing is the module that already owns the name.
	Existing string

	// Incoming is the module whose registration was rejected.
	Incoming string
}

func (e *RegistrationConflictError) Error() string {
	return fmt.Sprintf("command: registration conflict: %q already registered by module %q, rejected for module %q",
		e.Name, e.Existing, e.Incoming)
}

// Snapshot is an immutable view of the active command set. It is replaced,
// never mutated, on every successful registration, so a reader holding a
// Snapshot can match against it without synchronization.
type Snapshot struct {
	byName map[string]*Definition
	names  []string // sorted, for deterministic listings
}

// Lookup returns the definition registered under name, or nil.
func (s *Snapshot) Lookup(name string) *Definition {
	if s == nil {
		return nil
	}
	return s.byName[name]
}

// Names returns the sorted command names in the snapshot.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// All returns every definition in the snapshot in name order.
func (s *Snapshot) All() []*Definition {
	if s == nil {
		return nil
	}
	out := make([]*Definition, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.byName[n])
	}
	return out
}

// Len returns the number of registered commands.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byName)
}

// ModuleCommands returns the names of the commands owned by moduleID, in
// name order.
func (s *Snapshot) ModuleCommands(moduleID string) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, n := range s.names {
		if s.byName[n].Module == moduleID {
			out = append(out, n)
		}
	}
	return out
}

// Registry holds the active command snapshot. Reads are lock-free; writes
// (Register/Unregister) are serialized by a mutex and publish a fresh
// snapshot atomically.
type Registry struct {
	mu      sync.Mutex // serializes writers
	nextOrd int
	current atomic.Pointer[Snapshot]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{byName: map[string]*Definition{}})
	return r
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Lookup is a pure read against the current snapshot.
func (r *Registry) Lookup(name string) *Definition {
	return r.Snapshot().Lookup(name)
}

// Register merges the module's definitions into a new snapshot.
//
// Registration is atomic per module: either every definition is accepted or
// none is. A name owned by a different module yields a
// [*RegistrationConflictError]; re-registration by the same module replaces
// its previous entries (the reload path). Definitions are validated before
// any snapshot work happens.
func (r *Registry) Register(moduleID string, defs []*Definition) error {
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("command: register module %q: %w", moduleID, err)
		}
		if d.Module == "" {
			d.Module = moduleID
		}
		if d.Module != moduleID {
			return fmt.Errorf("command: register module %q: definition %q claims module %q", moduleID, d.Name, d.Module)
		}
	}

	// Duplicate names inside the incoming batch are a module bug.
	incoming := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if _, dup := incoming[d.Name]; dup {
			return fmt.Errorf("command: register module %q: duplicate definition %q in module", moduleID, d.Name)
		}
		incoming[d.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()

	// Conflict check against every command not owned by this module.
	for _, d := range defs {
		if prev, ok := old.byName[d.Name]; ok && prev.Module != moduleID {
			return &RegistrationConflictError{Name: d.Name, Existing: prev.Module, Incoming: moduleID}
		}
	}

	next := make(map[string]*Definition, len(old.byName)+len(defs))
	for name, d := range old.byName {
		if d.Module == moduleID {
			continue // replaced wholesale by the incoming set
		}
		next[name] = d
	}
	for _, d := range defs {
		d.order = r.nextOrd
		r.nextOrd++
		next[d.Name] = d
	}

	r.current.Store(buildSnapshot(next))
	return nil
}

// Unregister removes every command owned by moduleID and publishes the
// reduced snapshot. Removing an unknown module is a no-op.
func (r *Registry) Unregister(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	next := make(map[string]*Definition, len(old.byName))
	for name, d := range old.byName {
		if d.Module == moduleID {
			continue
		}
		next[name] = d
	}
	if len(next) == len(old.byName) {
		return
	}
	r.current.Store(buildSnapshot(next))
}

func buildSnapshot(byName map[string]*Definition) *Snapshot {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return &Snapshot{byName: byName, names: names}
}
