// Package phrase turns a base topic into activity suggestions and assembles
// a chosen activity into a sentence for the selected pronoun.
//
// Everything in this package is pure: the catalog is built once at init and
// never mutated, so all functions are safe for concurrent use.
package phrase

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

// BasePhrases lists the pre-enumerated topics offered to the user, in order.
var BasePhrases = []string{"sleeping", "watch tv", "hungry", "help", "eat"}

// catalog maps a normalized topic key to its candidate activities.
// Candidate order is the presentation priority.
var catalog = map[string][]string{
	"sleep":    {"go to sleep", "take a nap", "set a sleep timer", "talk about sleep schedule"},
	"sleeping": {"go to sleep", "nap for 30 minutes", "adjust sleeping schedule", "sleep well wishes"},
	"watch tv": {"watch TV", "change channel", "start streaming", "recommend a show"},
	"watch":    {"watch TV", "watch a movie", "turn on the show", "choose what to watch"},
	"eat":      {"have dinner", "order food", "prepare a snack", "set mealtime reminder"},
	"hungry":   {"grab something to eat", "order food", "prepare a snack", "drink water"},
	"help":     {"call for help", "need assistance", "send emergency alert"},
}

// NormalizeKey trims and lower-cases a topic the same way catalog keys are stored.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Lookup returns the candidates for key. The key is used as given; callers
// normalize with NormalizeKey first. The returned slice is a copy.
func Lookup(key string) ([]string, bool) {
	candidates, ok := catalog[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(candidates), true
}

// Keys returns the catalog keys in sorted order.
func Keys() []string {
	keys := lo.Keys(catalog)
	slices.Sort(keys)
	return keys
}
