// Package match implements the trigger-pattern matching engine.
//
// A pattern matches a normalized transcript when its literal tokens appear
// in the transcript in the same relative order (a subsequence, not
// necessarily contiguous) and placeholders bind to contiguous token spans
// consistent with their declared types. Pattern elements may be left
// unaligned at a score cost, so "play music" still surfaces the command
// declared as "play some music" — and a required placeholder with no
// bindable span becomes a missing parameter instead of a dead end. At least
// one literal must align. Literal token equality is exact or phonetic:
// Double Metaphone code overlap gates a Jaro-Winkler similarity threshold,
// the same two-stage test used for entity correction in noisy speech
// pipelines.
//
// Scoring follows the pattern's fit against the whole transcript:
//
//	score = Σ literal similarity
//	      − UnmatchedPenalty · (transcript tokens bound to nothing)
//	      − UnmatchedPenalty · (pattern elements left unaligned)
//	      + RunBonus · (longest consecutive literal run)
//
// Candidates within Epsilon of the top score are reported as ambiguous and
// handed to the disambiguation flow, ordered by score and then by
// registration order for determinism.
package match

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/halvard/vesper/internal/command"
)

// Config holds the matcher's scoring knobs. Zero values select the defaults
// noted on each field.
type Config struct {
	// MinScore is the minimum top score required for any match at all.
	// Below it the engine reports no match. Default 1.0.
	MinScore float64

	// Epsilon is the tie window: candidates scoring within Epsilon of the
	// top candidate are considered tied and trigger disambiguation.
	// Default 0.5.
	Epsilon float64

	// UnmatchedPenalty is subtracted per transcript token that neither a
	// literal nor a placeholder consumed, and per pattern element left
	// unaligned. Default 0.25.
	UnmatchedPenalty float64

	// RunBonus is added per token of the longest run of consecutive literal
	// tokens matched at adjacent transcript positions. Default 0.25.
	RunBonus float64

	// TokenSimilarity is the minimum Jaro-Winkler score for a phonetic
	// literal-token match. Default 0.84.
	TokenSimilarity float64
}

func (c Config) withDefaults() Config {
	if c.MinScore == 0 {
		c.MinScore = 1.0
	}
	if c.Epsilon == 0 {
		c.Epsilon = 0.5
	}
	if c.UnmatchedPenalty == 0 {
		c.UnmatchedPenalty = 0.25
	}
	if c.RunBonus == 0 {
		c.RunBonus = 0.25
	}
	if c.TokenSimilarity == 0 {
		c.TokenSimilarity = 0.84
	}
	return c
}

// Kind classifies a match result.
type Kind int

const (
	// NoMatch means no candidate cleared the minimum score.
	NoMatch Kind = iota

	// Matched means exactly one candidate cleared the top score by more
	// than epsilon.
	Matched

	// Ambiguous means two or more candidates tied within epsilon.
	Ambiguous
)

// Candidate is one command that matched the transcript.
type Candidate struct {
	// Def is the matched command definition.
	Def *command.Definition

	// Pattern is the specific trigger pattern that produced the score.
	Pattern command.Pattern

	// Score is the candidate's match score.
	Score float64

	// Params holds the bound parameter values: int64 for int, string for
	// text and choice, time.Duration for duration.
	Params map[string]any

	// Raw holds the raw transcript span bound to each parameter.
	Raw map[string]string

	// Missing lists required parameters the matched pattern did not bind.
	// Non-empty Missing turns a direct invocation into a parameter prompt.
	Missing []command.ParamSpec
}

// Result is the outcome of matching one transcript against a snapshot.
type Result struct {
	Kind Kind

	// Best is the winning candidate when Kind is Matched.
	Best *Candidate

	// Candidates holds the tied candidates when Kind is Ambiguous,
	// ordered by score then registration order.
	Candidates []*Candidate
}

// Matcher scores command definitions against normalized transcripts.
// It is read-only after construction and safe for concurrent use.
type Matcher struct {
	cfg Config
}

// New returns a [Matcher] with cfg's zero values replaced by defaults.
func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg.withDefaults()}
}

// Match scores every definition in snap against tokens and classifies the
// outcome. Each command contributes its best-scoring pattern only.
func (m *Matcher) Match(snap *command.Snapshot, tokens []string) Result {
	if snap.Len() == 0 || len(tokens) == 0 {
		return Result{Kind: NoMatch}
	}

	var candidates []*Candidate
	for _, def := range snap.All() {
		if c := m.bestForDefinition(def, tokens); c != nil {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Result{Kind: NoMatch}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Def.Order() < candidates[j].Def.Order()
	})

	top := candidates[0].Score
	if top < m.cfg.MinScore {
		return Result{Kind: NoMatch}
	}

	tied := candidates[:1]
	for _, c := range candidates[1:] {
		if top-c.Score <= m.cfg.Epsilon {
			tied = append(tied, c)
		}
	}
	if len(tied) == 1 {
		return Result{Kind: Matched, Best: tied[0]}
	}
	return Result{Kind: Ambiguous, Candidates: tied}
}

// bestForDefinition returns def's best-scoring candidate across all its
// patterns, or nil when no pattern matches.
func (m *Matcher) bestForDefinition(def *command.Definition, tokens []string) *Candidate {
	var best *Candidate
	for _, pat := range def.Patterns {
		score, binds, ok := m.matchPattern(pat, def, tokens)
		if !ok {
			continue
		}
		if best != nil && score <= best.Score {
			continue
		}
		c := &Candidate{
			Def:     def,
			Pattern: pat,
			Score:   score,
			Params:  make(map[string]any, len(binds)),
			Raw:     make(map[string]string, len(binds)),
		}
		for _, b := range binds {
			c.Params[b.param] = b.value
			c.Raw[b.param] = b.raw
		}
		for _, spec := range def.Params {
			if !spec.Required {
				continue
			}
			if _, bound := c.Params[spec.Name]; !bound {
				c.Missing = append(c.Missing, spec)
			}
		}
		best = c
	}
	return best
}

// similarity returns the match quality of transcript token tok against
// literal lit: 1.0 for exact equality, the Jaro-Winkler score for phonetic
// matches above the threshold, and ok=false otherwise.
func (m *Matcher) similarity(tok, lit string) (float64, bool) {
	if tok == lit {
		return 1.0, true
	}
	jw := matchr.JaroWinkler(tok, lit, false)
	if jw < m.cfg.TokenSimilarity {
		return 0, false
	}
	p1, s1 := matchr.DoubleMetaphone(tok)
	p2, s2 := matchr.DoubleMetaphone(lit)
	if !codesOverlap(p1, s1, p2, s2) {
		return 0, false
	}
	return jw, true
}

// codesOverlap reports whether the two Double Metaphone code pairs share at
// least one non-empty code.
func codesOverlap(p1, s1, p2, s2 string) bool {
	for _, a := range [2]string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || (s2 != "" && a == s2) {
			return true
		}
	}
	return false
}

// normalizeChoice reduces a declared choice value to the comparison form
// used at bind time.
func normalizeChoice(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
