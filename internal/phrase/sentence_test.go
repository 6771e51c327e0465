package phrase

import (
	"slices"
	"testing"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
)

func TestBuildSentence(t *testing.T) {
	cases := []struct {
		name     string
		pronoun  models.Pronoun
		activity string
		want     string
	}{
		{"my prefix kept", models.PronounMy, "my dog needs walking", "my dog needs walking"},
		{"my prefix any case", models.PronounMy, "MY turn", "MY turn"},
		{"my alone", models.PronounMy, "my", "my"},
		{"my followed by punctuation", models.PronounMy, "my, oh my", "my, oh my"},
		{"my added", models.PronounMy, "dog needs walking", "My dog needs walking"},
		{"myself is not my", models.PronounMy, "myself first", "My myself first"},
		{"my underscore is a word char", models.PronounMy, "my_list", "My my_list"},
		{"my trims", models.PronounMy, "  drink water  ", "My drink water"},

		{"i direct go to", models.PronounI, "go to sleep", "I go to sleep"},
		{"i direct any case", models.PronounI, "Watch TV", "I Watch TV"},
		{"i direct call", models.PronounI, "call for help", "I call for help"},
		{"i direct need", models.PronounI, "need assistance", "I need assistance"},
		{"i direct send", models.PronounI, "send emergency alert", "I send emergency alert"},
		{"i direct set", models.PronounI, "set a sleep timer", "I set a sleep timer"},
		{"i want to", models.PronounI, "eat dinner", "I want to eat dinner"},
		{"i needs trailing space", models.PronounI, "watcher duty", "I want to watcher duty"},
		{"i bare verb", models.PronounI, "watch", "I want to watch"},
		{"i trims", models.PronounI, "\ttake a nap ", "I take a nap"},

		{"we suggest watch", models.PronounWe, "watch TV", "Let's watch TV"},
		{"we suggest any case", models.PronounWe, "Order food", "Let's Order food"},
		{"we suggest start", models.PronounWe, "start streaming", "Let's start streaming"},
		{"we suggest choose", models.PronounWe, "choose what to watch", "Let's choose what to watch"},
		{"we suggest prepare", models.PronounWe, "prepare a snack", "Let's prepare a snack"},
		{"we suggest set", models.PronounWe, "set mealtime reminder", "Let's set mealtime reminder"},
		{"we will", models.PronounWe, "drink water", "We will drink water"},
		{"we will go to", models.PronounWe, "go to sleep", "We will go to sleep"},
		// Word-prefix match: "watcher" and "settle" still read as suggestions.
		{"we matches word prefix", models.PronounWe, "watcher duty", "Let's watcher duty"},
		{"we matches settle", models.PronounWe, "settle down", "Let's settle down"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := BuildSentence(c.pronoun, c.activity); got != c.want {
				t.Errorf("BuildSentence(%q, %q) = %q, want %q", c.pronoun, c.activity, got, c.want)
			}
		})
	}
}

func TestBuildPrompt_IgnoresBasePhrase(t *testing.T) {
	cases := []struct {
		pronoun  models.Pronoun
		activity string
		want     string
	}{
		{models.PronounMy, "my dog needs walking", "my dog needs walking"},
		{models.PronounMy, "dog needs walking", "My dog needs walking"},
		{models.PronounI, "go to sleep", "I go to sleep"},
		{models.PronounI, "eat dinner", "I want to eat dinner"},
		{models.PronounWe, "watch TV", "Let's watch TV"},
		{models.PronounWe, "drink water", "We will drink water"},
	}
	for _, c := range cases {
		for _, base := range []string{"x", "", "sleeping", "my"} {
			if got := BuildPrompt(c.pronoun, base, c.activity); got != c.want {
				t.Errorf("BuildPrompt(%q, %q, %q) = %q, want %q", c.pronoun, base, c.activity, got, c.want)
			}
		}
	}
}

func TestBuildSentence_UnknownPronounUsesWe(t *testing.T) {
	if got := BuildSentence(models.Pronoun("They"), "watch TV"); got != "Let's watch TV" {
		t.Errorf("unexpected sentence %q", got)
	}
	if got := BuildSentence(models.Pronoun(""), "drink water"); got != "We will drink water" {
		t.Errorf("unexpected sentence %q", got)
	}
}

func TestBuildSentence_NonEmptyForEverySuggestion(t *testing.T) {
	for _, base := range append(slices.Clone(BasePhrases), "", "sleep", "watch") {
		for _, activity := range GenerateSuggestions(base) {
			for _, p := range models.Pronouns {
				if BuildSentence(p, activity) == "" {
					t.Errorf("empty sentence for %q/%q", p, activity)
				}
			}
		}
	}
}
