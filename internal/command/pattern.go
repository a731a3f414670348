package command

import (
	"fmt"
	"strings"
)

// Element is one position in a trigger pattern: either a literal token or a
// typed placeholder referencing a parameter by name.
type Element struct {
	// Literal is the literal token in its normalized (lowercase) form.
	// Empty when the element is a placeholder.
	Literal string

	// Param is the placeholder's parameter name. Empty for literals.
	Param string
}

// IsPlaceholder reports whether the element is a placeholder.
func (e Element) IsPlaceholder() bool { return e.Param != "" }

// Pattern is a parsed trigger pattern: an ordered template of literal tokens
// and typed placeholders.
type Pattern struct {
	// Source is the original pattern string as declared by the module.
	Source string

	// Elems is the parsed element sequence.
	Elems []Element
}

// Literals returns the literal tokens of the pattern in order.
func (p Pattern) Literals() []string {
	var out []string
	for _, e := range p.Elems {
		if !e.IsPlaceholder() {
			out = append(out, e.Literal)
		}
	}
	return out
}

// ParsePattern parses a trigger pattern string such as "play <song>".
// Tokens wrapped in angle brackets are placeholders; everything else is a
// literal token, lowercased. Parameter type checking happens later in
// [Definition.Validate], which knows the parameter schema.
func ParsePattern(src string) (Pattern, error) {
	fields := strings.Fields(strings.TrimSpace(src))
	if len(fields) == 0 {
		return Pattern{}, fmt.Errorf("empty pattern")
	}

	p := Pattern{Source: src, Elems: make([]Element, 0, len(fields))}
	for _, f := range fields {
		if strings.HasPrefix(f, "<") || strings.HasSuffix(f, ">") {
			name := strings.TrimSuffix(strings.TrimPrefix(f, "<"), ">")
			if !strings.HasPrefix(f, "<") || !strings.HasSuffix(f, ">") || name == "" {
				return Pattern{}, fmt.Errorf("malformed placeholder %q", f)
			}
			if strings.ContainsAny(name, "<>") {
				return Pattern{}, fmt.Errorf("malformed placeholder %q", f)
			}
			p.Elems = append(p.Elems, Element{Param: name})
			continue
		}
		p.Elems = append(p.Elems, Element{Literal: strings.ToLower(f)})
	}
	return p, nil
}

// NormalizeLiterals rewrites the pattern's literal tokens through the same
// transform applied to transcripts, so a declared pattern lines up with
// what the normalizer actually emits: filler words vanish and spoken
// numbers fold to numerals. Runs of consecutive literals pass through
// normalize jointly, since multi-token number phrases fold as a sequence.
// Placeholders are preserved as-is.
func (p Pattern) NormalizeLiterals(normalize func(string) []string) Pattern {
	out := Pattern{Source: p.Source, Elems: make([]Element, 0, len(p.Elems))}
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		for _, tok := range normalize(strings.Join(run, " ")) {
			out.Elems = append(out.Elems, Element{Literal: tok})
		}
		run = nil
	}
	for _, e := range p.Elems {
		if e.IsPlaceholder() {
			flush()
			out.Elems = append(out.Elems, e)
			continue
		}
		run = append(run, e.Literal)
	}
	flush()
	return out
}

// validateAgainst checks the pattern's placeholders against the owning
// definition's parameter schema.
func (p Pattern) validateAgainst(d *Definition) error {
	seen := make(map[string]struct{})
	lastWasText := false
	hasLiteral := false

	for _, e := range p.Elems {
		if !e.IsPlaceholder() {
			hasLiteral = true
			lastWasText = false
			continue
		}

		spec := d.Param(e.Param)
		if spec == nil {
			return fmt.Errorf("placeholder <%s> references an undeclared parameter", e.Param)
		}
		if _, dup := seen[e.Param]; dup {
			return fmt.Errorf("placeholder <%s> appears more than once", e.Param)
		}
		seen[e.Param] = struct{}{}

		// Two adjacent free-text placeholders have no token boundary between
		// them, so there is no binding that is not arbitrary.
		if spec.Type == ParamText && lastWasText {
			return fmt.Errorf("adjacent free-text placeholders cannot be bound")
		}
		lastWasText = spec.Type == ParamText
	}

	if !hasLiteral {
		return fmt.Errorf("pattern needs at least one literal token")
	}
	return nil
}
