package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider changes
// require a restart and are deliberately absent.
type ConfigDiff struct {
	// DispatchChanged is true when any matching or turn-handling knob
	// changed; the engine and matcher must be rebuilt from the new values.
	DispatchChanged bool

	// WakeChanged is true when the wake section changed.
	WakeChanged bool

	// ModulesAdded and ModulesRemoved list module locations present in
	// only one of the two configs.
	ModulesAdded   []string
	ModulesRemoved []string

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Any reports whether the diff carries any change at all.
func (d ConfigDiff) Any() bool {
	return d.DispatchChanged || d.WakeChanged || d.LogLevelChanged ||
		len(d.ModulesAdded) > 0 || len(d.ModulesRemoved) > 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !dispatchEqual(old.Dispatch, new.Dispatch) {
		d.DispatchChanged = true
	}
	if old.Wake != new.Wake {
		d.WakeChanged = true
	}

	for _, loc := range new.Modules.Locations {
		if !slices.Contains(old.Modules.Locations, loc) {
			d.ModulesAdded = append(d.ModulesAdded, loc)
		}
	}
	for _, loc := range old.Modules.Locations {
		if !slices.Contains(new.Modules.Locations, loc) {
			d.ModulesRemoved = append(d.ModulesRemoved, loc)
		}
	}

	return d
}

// dispatchEqual compares two dispatch sections field by field; the struct
// holds slices, so == is unavailable.
func dispatchEqual(a, b DispatchConfig) bool {
	return a.MinConfidence == b.MinConfidence &&
		a.MinScore == b.MinScore &&
		a.ScoreEpsilon == b.ScoreEpsilon &&
		a.UnmatchedPenalty == b.UnmatchedPenalty &&
		a.RunBonus == b.RunBonus &&
		a.TokenSimilarity == b.TokenSimilarity &&
		a.MinWords == b.MinWords &&
		a.MaxWords == b.MaxWords &&
		a.SelectionTimeout == b.SelectionTimeout &&
		a.ActionTimeout == b.ActionTimeout &&
		slices.Equal(a.CancelPhrases, b.CancelPhrases) &&
		slices.Equal(a.Fillers, b.Fillers)
}
