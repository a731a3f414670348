package match

import (
	"strconv"
	"strings"
	"time"

	"github.com/halvard/vesper/internal/command"
)

// BindValue binds a whole token sequence to a single parameter, applying
// the same typing rules the matcher uses for placeholder spans. It is used
// when a follow-up utterance supplies a missing parameter value on its own.
func BindValue(spec command.ParamSpec, tokens []string) (any, bool) {
	switch {
	case len(tokens) == 0:
		return nil, false
	case spec.Type == command.ParamInt && len(tokens) != 1:
		return nil, false
	case spec.Type == command.ParamDuration && len(tokens) > 2:
		return nil, false
	}
	return bindSpan(&spec, tokens)
}

// binding is one placeholder bound to a transcript span.
type binding struct {
	param string
	raw   string
	value any
}

// searchState carries the accumulated scoring facts through the recursive
// element walk.
type searchState struct {
	litScore float64
	used     int // transcript tokens consumed by literals or placeholders
	matched  int // literal elements aligned to a transcript token
	skipped  int // pattern elements left unaligned
	curRun   int // current consecutive-literal streak length
	bestRun  int
	lastLit  int // transcript index of the previous literal match, -1 initially
	binds    []binding
}

// matchPattern tries every way of aligning pat against tokens and returns
// the highest-scoring alignment. An alignment may leave pattern elements
// unaligned at a per-element score cost, so a near-miss pattern still forms
// a candidate: a skipped literal simply contributes no similarity, and a
// skipped required placeholder surfaces later as a missing parameter. At
// least one literal must align; ok is false when none does.
func (m *Matcher) matchPattern(pat command.Pattern, def *command.Definition, tokens []string) (float64, []binding, bool) {
	best := struct {
		score float64
		binds []binding
		found bool
	}{}

	var walk func(ei, ti int, st searchState)
	walk = func(ei, ti int, st searchState) {
		if ei == len(pat.Elems) {
			if st.matched == 0 {
				return
			}
			run := st.bestRun
			if st.curRun > run {
				run = st.curRun
			}
			score := st.litScore -
				m.cfg.UnmatchedPenalty*float64(len(tokens)-st.used) -
				m.cfg.UnmatchedPenalty*float64(st.skipped) +
				m.cfg.RunBonus*float64(run)
			if !best.found || score > best.score {
				best.score = score
				best.binds = append([]binding(nil), st.binds...)
				best.found = true
			}
			return
		}

		e := pat.Elems[ei]
		if !e.IsPlaceholder() {
			// Literal: try every remaining transcript position in order.
			for p := ti; p < len(tokens); p++ {
				sim, ok := m.similarity(tokens[p], e.Literal)
				if !ok {
					continue
				}
				next := st
				next.litScore += sim
				next.used++
				next.matched++
				if st.lastLit >= 0 && p == st.lastLit+1 {
					next.curRun = st.curRun + 1
				} else {
					if st.curRun > next.bestRun {
						next.bestRun = st.curRun
					}
					next.curRun = 1
				}
				next.lastLit = p
				walk(ei+1, p+1, next)
			}
			// Skipping consumes no transcript token, so an adjacent-literal
			// run may continue across the skipped element.
			skip := st
			skip.skipped++
			walk(ei+1, ti, skip)
			return
		}

		spec := def.Param(e.Param)
		// Placeholder: try every start offset and admissible span length.
		for start := ti; start < len(tokens); start++ {
			maxLen := maxSpanLen(spec.Type, len(tokens)-start)
			for n := 1; n <= maxLen; n++ {
				span := tokens[start : start+n]
				val, ok := bindSpan(spec, span)
				if !ok {
					continue
				}
				next := st
				next.used += n
				if st.curRun > next.bestRun {
					next.bestRun = st.curRun
				}
				next.curRun = 0
				next.binds = append(st.binds[:len(st.binds):len(st.binds)], binding{
					param: e.Param,
					raw:   strings.Join(span, " "),
					value: val,
				})
				walk(ei+1, start+n, next)
			}
		}
		// Unbindable (or absent) placeholder value: leave the parameter
		// unbound and let the missing-parameter prompt collect it.
		skip := st
		skip.skipped++
		walk(ei+1, ti, skip)
	}

	walk(0, 0, searchState{lastLit: -1})
	return best.score, best.binds, best.found
}

// maxSpanLen bounds the span width tried for a placeholder type. Free-text
// spans may cover the whole remaining transcript; typed spans are short.
func maxSpanLen(t command.ParamType, remaining int) int {
	var lim int
	switch t {
	case command.ParamInt:
		lim = 1
	case command.ParamDuration:
		lim = 2
	case command.ParamChoice:
		lim = 4
	default:
		lim = remaining
	}
	if lim > remaining {
		lim = remaining
	}
	return lim
}

// bindSpan type-checks span against spec and converts it to the bound value.
func bindSpan(spec *command.ParamSpec, span []string) (any, bool) {
	switch spec.Type {
	case command.ParamInt:
		v, err := strconv.ParseInt(span[0], 10, 64)
		if err != nil {
			return nil, false
		}
		return v, true

	case command.ParamChoice:
		joined := normalizeChoice(strings.Join(span, " "))
		for _, c := range spec.Choices {
			if normalizeChoice(c) == joined {
				return c, true
			}
		}
		return nil, false

	case command.ParamDuration:
		return bindDuration(span)

	default: // ParamText
		return strings.Join(span, " "), true
	}
}

// durationUnits maps spoken time units to their base duration.
var durationUnits = map[string]time.Duration{
	"second": time.Second, "seconds": time.Second,
	"minute": time.Minute, "minutes": time.Minute,
	"hour": time.Hour, "hours": time.Hour,
}

// bindDuration binds "<numeral> <unit>" spans, or a bare unit ("minute")
// meaning one of that unit.
func bindDuration(span []string) (any, bool) {
	switch len(span) {
	case 1:
		unit, ok := durationUnits[span[0]]
		if !ok {
			return nil, false
		}
		return unit, true
	case 2:
		n, err := strconv.ParseInt(span[0], 10, 64)
		if err != nil || n < 0 {
			return nil, false
		}
		unit, ok := durationUnits[span[1]]
		if !ok {
			return nil, false
		}
		return time.Duration(n) * unit, true
	}
	return nil, false
}
