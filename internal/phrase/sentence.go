package phrase

import (
	"strings"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
)

// Prefixes that let an "I" sentence read without "want to". Each carries its
// trailing space, so only whole leading words match.
var iDirectPrefixes = []string{
	"go to ", "take ", "set ", "watch ", "order ", "prepare ", "call ", "need ", "send ",
}

// Prefixes that turn a "We" sentence into a suggestion. These match the start
// of a word, so "watcher" matches "watch".
var weSuggestPrefixes = []string{
	"watch", "prepare", "order", "start", "choose", "set",
}

// BuildSentence assembles activity into a sentence from pronoun's perspective.
// The activity is trimmed; nothing inside it is rewritten.
func BuildSentence(pronoun models.Pronoun, activity string) string {
	a := strings.TrimSpace(activity)
	switch pronoun {
	case models.PronounMy:
		if startsWithWord(a, "my") {
			return a
		}
		return "My " + a
	case models.PronounI:
		if hasPrefixFold(a, iDirectPrefixes) {
			return "I " + a
		}
		return "I want to " + a
	case models.PronounWe:
		return buildWe(a)
	default:
		return buildWe(a)
	}
}

// BuildPrompt is BuildSentence with the base phrase the caller had selected.
// basePhrase does not influence the result.
func BuildPrompt(pronoun models.Pronoun, basePhrase, activity string) string {
	_ = basePhrase
	return BuildSentence(pronoun, activity)
}

func buildWe(a string) string {
	if hasPrefixFold(a, weSuggestPrefixes) {
		return "Let's " + a
	}
	return "We will " + a
}

// hasPrefixFold reports whether s starts with any of prefixes, ignoring case.
func hasPrefixFold(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			return true
		}
	}
	return false
}

// startsWithWord reports whether s starts with word (ignoring case) followed
// by a word boundary.
func startsWithWord(s, word string) bool {
	if !hasPrefixFold(s, []string{word}) {
		return false
	}
	if len(s) == len(word) {
		return true
	}
	return !isWordByte(s[len(word)])
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
