// Package transcript implements the utterance normalizer that sits between
// the recognizer boundary and the dispatch engine.
//
// Normalization is a pure text transform: lowercase, punctuation stripping,
// filler-word removal, and spoken-number folding ("twenty three" → "23").
// It never fails — fragments the number parser cannot interpret pass through
// unchanged as opaque tokens — and it is idempotent, so re-normalizing an
// already normalized utterance is a no-op.
package transcript

import (
	"strings"
	"unicode"
)

// defaultFillers is the filler-word set stripped from utterances before
// matching. Multi-word fillers are not supported; each entry is a single
// normalized token.
var defaultFillers = []string{"um", "uh", "hmm", "okay", "like", "the", "that"}

// Option is a functional option for configuring a [Normalizer].
type Option func(*Normalizer)

// WithFillers replaces the default filler-word set. Entries are lowercased.
// Passing an empty slice disables filler removal entirely.
func WithFillers(words []string) Option {
	return func(n *Normalizer) {
		n.fillers = make(map[string]struct{}, len(words))
		for _, w := range words {
			n.fillers[strings.ToLower(w)] = struct{}{}
		}
	}
}

// Normalizer converts raw recognizer output into the token sequence the
// dispatch engine matches against. All methods are safe for concurrent use —
// the Normalizer is read-only after construction.
type Normalizer struct {
	fillers map[string]struct{}
}

// New returns a [Normalizer] with the default filler-word set.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		fillers: make(map[string]struct{}, len(defaultFillers)),
	}
	for _, w := range defaultFillers {
		n.fillers[w] = struct{}{}
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize converts a raw utterance into its normalized token sequence.
//
// The transform applies, in order:
//  1. lowercasing,
//  2. punctuation stripping (every rune that is not a letter or digit
//     becomes a token boundary),
//  3. filler-word removal,
//  4. spoken-number folding using a longest-match walk over known
//     number-word sequences.
//
// The result is never nil for non-empty meaningful input; an utterance
// consisting solely of punctuation and fillers normalizes to an empty slice.
func (n *Normalizer) Normalize(raw string) []string {
	tokens := tokenize(raw)

	// Filler removal happens before number folding so that fillers cannot
	// split an otherwise contiguous number-word sequence.
	if len(n.fillers) > 0 {
		kept := tokens[:0]
		for _, t := range tokens {
			if _, drop := n.fillers[t]; !drop {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}

	return foldNumbers(tokens)
}

// NormalizeText is a convenience wrapper returning the normalized tokens
// joined with single spaces.
func (n *Normalizer) NormalizeText(raw string) string {
	return strings.Join(n.Normalize(raw), " ")
}

// tokenize lowercases raw and splits it into tokens at every rune that is
// neither a letter nor a digit. Hyphenated number words ("twenty-three")
// therefore arrive at the folder as two tokens.
func tokenize(raw string) []string {
	lower := strings.ToLower(raw)
	// Non-ASCII letters stay inside tokens so foreign words survive as
	// opaque tokens rather than being shredded.
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
