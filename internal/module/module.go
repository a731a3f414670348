// Package module implements the dynamic command-module system: loading
// user-supplied command declarations, validating them against a fixed
// schema, registering them atomically, and backing up / restoring module
// state as immutable timestamped snapshots.
//
// A module is a directory containing a module.yaml declaration file and any
// Lua scripts its commands reference. Declarations pass a validation gate —
// pattern syntax, parameter schema, action resolvability, script
// compilation — before any of them reaches the live registry, and a
// rejected module never affects previously loaded state.
package module

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halvard/vesper/internal/command"
)

// File is the on-disk declaration schema of module.yaml.
type File struct {
	// Name is the module's logical identifier, unique across the loader.
	Name string `yaml:"name"`

	// Description is free text for listings. Optional.
	Description string `yaml:"description"`

	// Commands are the module's command declarations.
	Commands []Declaration `yaml:"commands"`
}

// Declaration is one command as written by a module author.
type Declaration struct {
	// Name is the command name, unique across the whole registry.
	Name string `yaml:"name"`

	// Patterns are trigger pattern strings ("play <song>").
	Patterns []string `yaml:"patterns"`

	// Params declares the parameters referenced by Patterns.
	Params []ParamDecl `yaml:"params"`

	// Action references a builtin action by name. Mutually exclusive with
	// Script.
	Action string `yaml:"action"`

	// Script is the module-relative path of a Lua script implementing the
	// command. Mutually exclusive with Action.
	Script string `yaml:"script"`

	// Response, when set, is spoken as soon as the command is recognized.
	Response string `yaml:"response"`

	// Sensitive commands require a spoken confirmation round.
	Sensitive bool `yaml:"sensitive"`

	// Online commands require network connectivity.
	Online bool `yaml:"online"`

	// Notify commands play an audible cue on recognition.
	Notify bool `yaml:"notify"`
}

// ParamDecl is the YAML form of a parameter spec.
type ParamDecl struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Choices  []string `yaml:"choices"`
	Required bool     `yaml:"required"`
}

// LoadError reports a module that failed validation. The offending
// declaration is identified so module authors can find it.
type LoadError struct {
	// Module is the module's logical name, or its source path when the
	// failure happened before the name could be read.
	Module string

	// Decl is the name of the offending declaration, empty for file-level
	// failures.
	Decl string

	// Err is the underlying cause.
	Err error
}

func (e *LoadError) Error() string {
	if e.Decl != "" {
		return fmt.Sprintf("module %q: declaration %q: %v", e.Module, e.Decl, e.Err)
	}
	return fmt.Sprintf("module %q: %v", e.Module, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Info describes a loaded module.
type Info struct {
	// Name is the module's logical identifier.
	Name string

	// Source is the filesystem location the module was loaded from.
	Source string

	// Commands are the names of the commands the module registered.
	Commands []string

	// LoadedAt is when the current version was registered.
	LoadedAt time.Time
}

// Manifest is the registered-command record written alongside every backup,
// keyed by the backup timestamp. Restoring replays exactly this command set.
type Manifest struct {
	Module    string   `yaml:"module"`
	Source    string   `yaml:"source"`
	Timestamp string   `yaml:"timestamp"`
	Commands  []string `yaml:"commands"`
}

// decodeFile parses and structurally checks a module.yaml document.
// Unknown fields are rejected so schema typos surface at load time.
func decodeFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &f, nil
}

// paramSpec converts a ParamDecl to the registry's ParamSpec form.
func (p ParamDecl) paramSpec() command.ParamSpec {
	return command.ParamSpec{
		Name:     p.Name,
		Type:     command.ParamType(p.Type),
		Choices:  p.Choices,
		Required: p.Required,
	}
}
