package transcript

import "strconv"

// Number-word vocabulary. Folding supports compositions up to the millions
// ("three hundred and five thousand twenty one"); anything the strict parser
// rejects is left untouched.
var (
	numberUnits = map[string]int64{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9,
	}
	numberTeens = map[string]int64{
		"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
		"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17,
		"eighteen": 18, "nineteen": 19,
	}
	numberTens = map[string]int64{
		"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
		"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	}
)

// isNumberWord reports whether w can appear anywhere inside a spoken number.
func isNumberWord(w string) bool {
	if w == "zero" || w == "and" || w == "hundred" || w == "thousand" || w == "million" {
		return true
	}
	if _, ok := numberUnits[w]; ok {
		return true
	}
	if _, ok := numberTeens[w]; ok {
		return true
	}
	_, ok := numberTens[w]
	return ok
}

// startsNumber reports whether w can be the first word of a spoken number.
// "and" and the scale words never start one, so "and five" keeps its "and".
func startsNumber(w string) bool {
	if w == "zero" {
		return true
	}
	if _, ok := numberUnits[w]; ok {
		return true
	}
	if _, ok := numberTeens[w]; ok {
		return true
	}
	_, ok := numberTens[w]
	return ok
}

// foldNumbers walks tokens and replaces every maximal parseable number-word
// sequence with its numeral. The walk mirrors the window strategy used for
// multi-word entity matching: at each position try the longest candidate
// window first and fall back to shorter ones, so "twenty three" folds to a
// single "23" rather than "20 3".
func foldNumbers(tokens []string) []string {
	out := make([]string, 0, len(tokens))

	i := 0
	for i < len(tokens) {
		if !startsNumber(tokens[i]) {
			out = append(out, tokens[i])
			i++
			continue
		}

		// Extend the window while tokens stay in the number vocabulary.
		end := i + 1
		for end < len(tokens) && isNumberWord(tokens[end]) {
			end++
		}

		// Longest match wins; every prefix starting at i is retried until
		// one parses strictly.
		folded := false
		for j := end; j > i; j-- {
			if v, ok := parseNumberWords(tokens[i:j]); ok {
				out = append(out, strconv.FormatInt(v, 10))
				i = j
				folded = true
				break
			}
		}
		if !folded {
			out = append(out, tokens[i])
			i++
		}
	}

	return out
}

// parseNumberWords strictly parses a complete number-word sequence. It
// returns ok=false for sequences that are not a single well-formed number
// ("three twenty", "hundred", a trailing "and", ...).
func parseNumberWords(words []string) (int64, bool) {
	if len(words) == 0 {
		return 0, false
	}
	if words[0] == "zero" {
		// "zero" composes with nothing.
		if len(words) != 1 {
			return 0, false
		}
		return 0, true
	}

	var total, current int64
	var hasUnits, hasTens, pendingAnd bool

	for _, w := range words {
		switch {
		case w == "and":
			// Only valid directly after a completed hundreds/thousands group.
			if pendingAnd || (current != 0 && current%100 != 0) || (current == 0 && total == 0) {
				return 0, false
			}
			pendingAnd = true

		case w == "hundred":
			if pendingAnd || !hasUnits || hasTens || current == 0 || current%100 != 0 && current > 9 {
				return 0, false
			}
			current *= 100
			hasUnits, hasTens = false, false

		case w == "thousand":
			if pendingAnd || current == 0 || total >= 1000 {
				return 0, false
			}
			total += current * 1000
			current = 0
			hasUnits, hasTens = false, false

		case w == "million":
			if pendingAnd || current == 0 || total != 0 {
				return 0, false
			}
			total = current * 1_000_000
			current = 0
			hasUnits, hasTens = false, false

		default:
			if v, ok := numberUnits[w]; ok {
				if hasUnits {
					return 0, false
				}
				current += v
				hasUnits = true
				pendingAnd = false
				break
			}
			if v, ok := numberTeens[w]; ok {
				if hasUnits || hasTens {
					return 0, false
				}
				current += v
				hasUnits, hasTens = true, true
				pendingAnd = false
				break
			}
			if v, ok := numberTens[w]; ok {
				if hasUnits || hasTens {
					return 0, false
				}
				current += v
				hasTens = true
				pendingAnd = false
				break
			}
			return 0, false
		}
	}

	if pendingAnd {
		return 0, false
	}
	return total + current, true
}
