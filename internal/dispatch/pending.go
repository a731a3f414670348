package dispatch

import (
	"strconv"
	"strings"
	"time"

	"github.com/halvard/vesper/internal/command"
	"github.com/halvard/vesper/internal/command/match"
)

// State is the lifecycle phase of a pending disambiguation round.
type State int

const (
	// StateOpened means the candidate list has been presented and the
	// selection timer is running.
	StateOpened State = iota

	// StateAwaitingSelection means the next transcript will be
	// interpreted as a selection before anything else.
	StateAwaitingSelection

	// StateResolved means the user picked a candidate.
	StateResolved

	// StateCancelled means the user cancelled or the timer fired.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateAwaitingSelection:
		return "awaiting_selection"
	case StateResolved:
		return "resolved"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// pendingKind distinguishes what the open round is asking the user for.
type pendingKind int

const (
	// pendingCommands asks the user to pick between tied commands.
	pendingCommands pendingKind = iota

	// pendingParam asks the user to supply or pick a missing parameter
	// value for an already-chosen command.
	pendingParam

	// pendingConfirm asks the user to confirm a sensitive command.
	pendingConfirm
)

// Pending is one open disambiguation round. It is owned by the engine and
// guarded by the engine's mutex; only the timeout timer touches it from
// another goroutine, and the engine re-checks state under lock when the
// timer fires.
type Pending struct {
	kind pendingKind

	// candidates are the tied commands for pendingCommands rounds.
	candidates []*match.Candidate

	// chosen is the selected command for pendingParam and pendingConfirm
	// rounds, carried so dispatch can resume where it stopped.
	chosen *match.Candidate

	// param is the parameter being filled in a pendingParam round.
	param command.ParamSpec

	// sourceText is the normalized text of the utterance that opened the
	// round, kept for history records.
	sourceText string

	openedAt time.Time
	state    State
	timer    *time.Timer
}

// Labels returns the spoken label for each selectable option: command names
// for command rounds, declared choices for choice-parameter rounds. Empty
// for free-value parameter rounds and confirmation rounds.
func (p *Pending) Labels() []string {
	switch p.kind {
	case pendingCommands:
		out := make([]string, len(p.candidates))
		for i, c := range p.candidates {
			out[i] = c.Def.Name
		}
		return out
	case pendingParam:
		if p.param.Type == command.ParamChoice {
			return append([]string(nil), p.param.Choices...)
		}
	}
	return nil
}

// State returns the round's current state.
func (p *Pending) State() State { return p.state }

// stopTimer halts the timeout timer. Safe to call more than once.
func (p *Pending) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// selection is the parsed meaning of a follow-up utterance.
type selection struct {
	index     int // 0-based pick into Labels(), valid when picked
	picked    bool
	cancelled bool
}

// ordinalWords maps spoken ordinals to 1-based positions. The normalizer
// folds cardinal number words to digits before this map is consulted, so
// only true ordinals need entries.
var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

// affirmWords and denyWords classify confirmation follow-ups.
var (
	affirmWords = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "sure": true,
		"confirm": true, "affirmative": true, "correct": true,
	}
	denyWords = map[string]bool{
		"no": true, "nope": true, "negative": true, "dont": true,
	}
)

// parseSelection interprets a normalized follow-up utterance against the
// candidate labels. It recognises, in order: cancellation phrases, ordinal
// words ("first", "second one"), numerals ("number two" arrives as
// "number 2"), and a case-insensitive substring uniquely matching one
// label. ok is false when the utterance is none of these.
func parseSelection(tokens []string, labels []string, cancelPhrases []string) (selection, bool) {
	if len(tokens) == 0 {
		return selection{}, false
	}
	joined := strings.Join(tokens, " ")

	for _, phrase := range cancelPhrases {
		if joined == phrase {
			return selection{cancelled: true}, true
		}
	}

	for _, tok := range tokens {
		if n, ok := ordinalWords[tok]; ok && n >= 1 && n <= len(labels) {
			return selection{index: n - 1, picked: true}, true
		}
	}

	// A single numeral anywhere in the utterance ("2", "number 2").
	numeral := -1
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if numeral != -1 {
			numeral = -1 // ambiguous, give up on numerals
			break
		}
		numeral = n
	}
	if numeral >= 1 && numeral <= len(labels) {
		return selection{index: numeral - 1, picked: true}, true
	}

	// Unique substring of exactly one label.
	found := -1
	for i, label := range labels {
		if strings.Contains(strings.ToLower(label), joined) {
			if found != -1 {
				return selection{}, false
			}
			found = i
		}
	}
	if found != -1 {
		return selection{index: found, picked: true}, true
	}

	return selection{}, false
}

// parseConfirmation classifies a follow-up to a yes/no round. ok is false
// when the utterance is neither.
func parseConfirmation(tokens []string, cancelPhrases []string) (confirmed bool, ok bool) {
	if len(tokens) == 0 {
		return false, false
	}
	joined := strings.Join(tokens, " ")
	for _, phrase := range cancelPhrases {
		if joined == phrase {
			return false, true
		}
	}
	for _, tok := range tokens {
		if affirmWords[tok] {
			return true, true
		}
		if denyWords[tok] {
			return false, true
		}
	}
	return false, false
}

// spokenList renders candidate labels as a short spoken enumeration:
// "one: play music. two: play radio."
func spokenList(labels []string) string {
	var b strings.Builder
	for i, label := range labels {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(spokenOrdinal(i + 1))
		b.WriteString(": ")
		b.WriteString(label)
		b.WriteString(".")
	}
	return b.String()
}

var smallNumbers = []string{
	"zero", "one", "two", "three", "four", "five",
	"six", "seven", "eight", "nine", "ten",
}

func spokenOrdinal(n int) string {
	if n >= 0 && n < len(smallNumbers) {
		return smallNumbers[n]
	}
	return strconv.Itoa(n)
}
