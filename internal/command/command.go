// Package command defines the command data model — definitions, trigger
// patterns, parameter schemas — and the registry that holds the active
// command set as an immutable snapshot.
//
// The registry follows a single-writer discipline: the module loader is the
// only writer, and every successful registration publishes a brand-new
// snapshot. Readers (the dispatch engine) grab the current snapshot once per
// utterance and never observe a half-updated command set.
package command

import (
	"fmt"
	"strings"
)

// ParamType is the type of a command parameter placeholder.
type ParamType string

const (
	// ParamText binds a free-text span of one or more tokens.
	ParamText ParamType = "text"

	// ParamInt binds a single numeral token.
	ParamInt ParamType = "int"

	// ParamChoice binds one of a declared set of values, case-insensitively.
	ParamChoice ParamType = "choice"

	// ParamDuration binds a numeral plus a time unit ("10 minutes").
	ParamDuration ParamType = "duration"
)

// IsValid reports whether t is a recognised parameter type.
func (t ParamType) IsValid() bool {
	switch t {
	case ParamText, ParamInt, ParamChoice, ParamDuration:
		return true
	}
	return false
}

// ParamSpec declares one parameter of a command.
type ParamSpec struct {
	// Name is the placeholder name referenced from trigger patterns as <name>.
	Name string

	// Type determines how transcript tokens may bind to the placeholder.
	Type ParamType

	// Choices lists the allowed values for ParamChoice parameters.
	// Each entry is stored in its normalized token form.
	Choices []string

	// Required marks parameters that must be bound before the command can be
	// invoked. A matched pattern that does not mention a required parameter
	// triggers a parameter-level prompt instead of direct invocation.
	Required bool
}

// Flags carries per-command execution requirements.
type Flags struct {
	// Sensitive commands need a spoken yes/no confirmation before they run.
	Sensitive bool

	// Online commands need network connectivity and are refused without it.
	Online bool

	// Notify commands play an audible cue when recognized, for actions that
	// produce no spoken response of their own.
	Notify bool
}

// Definition is a single executable command as registered by a module.
type Definition struct {
	// Name is the stable command identifier, unique across the registry.
	Name string

	// Module identifies the owning module.
	Module string

	// Patterns are the trigger patterns this command is matched against.
	Patterns []Pattern

	// Params is the parameter schema. Every placeholder used by Patterns
	// must reference an entry here.
	Params []ParamSpec

	// Action names the callable to invoke: either a builtin action
	// reference ("system.status") or the module-relative Lua script path
	// recorded by the loader.
	Action string

	// Script reports whether Action refers to a module Lua script rather
	// than a builtin action.
	Script bool

	// Response, when non-empty, is spoken as an acknowledgement as soon as
	// the command is recognized, before the action runs.
	Response string

	// Flags are the execution requirements.
	Flags Flags

	// order is the registration sequence index, used as the deterministic
	// tie-break when candidates score identically.
	order int
}

// Order returns the definition's registration sequence index.
func (d *Definition) Order() int { return d.order }

// Param returns the ParamSpec with the given name, or nil.
func (d *Definition) Param(name string) *ParamSpec {
	for i := range d.Params {
		if d.Params[i].Name == name {
			return &d.Params[i]
		}
	}
	return nil
}

// Validate checks the definition for internal consistency: non-empty name
// and action, valid parameter types, choice lists on choice parameters, and
// every pattern placeholder resolvable against the parameter schema.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("command: definition has empty name")
	}
	if strings.TrimSpace(d.Action) == "" {
		return fmt.Errorf("command %q: empty action reference", d.Name)
	}
	if len(d.Patterns) == 0 {
		return fmt.Errorf("command %q: no trigger patterns", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Params))
	for _, p := range d.Params {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("command %q: parameter with empty name", d.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("command %q: duplicate parameter %q", d.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.IsValid() {
			return fmt.Errorf("command %q: parameter %q has unknown type %q", d.Name, p.Name, p.Type)
		}
		if p.Type == ParamChoice && len(p.Choices) == 0 {
			return fmt.Errorf("command %q: choice parameter %q declares no choices", d.Name, p.Name)
		}
		if p.Type != ParamChoice && len(p.Choices) > 0 {
			return fmt.Errorf("command %q: parameter %q of type %q must not declare choices", d.Name, p.Name, p.Type)
		}
	}

	for _, pat := range d.Patterns {
		if err := pat.validateAgainst(d); err != nil {
			return fmt.Errorf("command %q: pattern %q: %w", d.Name, pat.Source, err)
		}
	}
	return nil
}
