package phrase

import (
	"strings"

	"github.com/samber/lo"
)

// MaxSuggestions bounds the length of a suggestion list.
const MaxSuggestions = 8

// Fallback templates appended after catalog matches.
const (
	ThinkAboutPrefix  = "think about "
	SetReminderPrefix = "set reminder for "
)

// GenerateSuggestions returns up to MaxSuggestions unique activities for base.
//
// Exact-key catalog entries come first, then entries for the first word of a
// multi-word key, then three fallbacks built from the raw, untrimmed base.
// Duplicates are dropped by exact string equality, keeping the first.
func GenerateSuggestions(base string) []string {
	key := NormalizeKey(base)

	var suggestions []string
	if candidates, ok := Lookup(key); ok {
		suggestions = append(suggestions, candidates...)
	}

	if tokens := strings.Fields(key); len(tokens) > 0 {
		root := tokens[0]
		if root != key {
			if candidates, ok := Lookup(root); ok {
				suggestions = append(suggestions, candidates...)
			}
		}
	}

	suggestions = append(suggestions, base, ThinkAboutPrefix+base, SetReminderPrefix+base)

	suggestions = lo.Uniq(suggestions)
	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	return suggestions
}
