package phrase

import (
	"slices"
	"testing"
)

func TestLookup_KnownKeys(t *testing.T) {
	want := map[string][]string{
		"sleep":    {"go to sleep", "take a nap", "set a sleep timer", "talk about sleep schedule"},
		"sleeping": {"go to sleep", "nap for 30 minutes", "adjust sleeping schedule", "sleep well wishes"},
		"watch tv": {"watch TV", "change channel", "start streaming", "recommend a show"},
		"watch":    {"watch TV", "watch a movie", "turn on the show", "choose what to watch"},
		"eat":      {"have dinner", "order food", "prepare a snack", "set mealtime reminder"},
		"hungry":   {"grab something to eat", "order food", "prepare a snack", "drink water"},
		"help":     {"call for help", "need assistance", "send emergency alert"},
	}
	for key, candidates := range want {
		got, ok := Lookup(key)
		if !ok {
			t.Errorf("Lookup(%q) missing", key)
			continue
		}
		if !slices.Equal(got, candidates) {
			t.Errorf("Lookup(%q) = %v, want %v", key, got, candidates)
		}
	}
	if len(Keys()) != len(want) {
		t.Errorf("expected %d keys, got %v", len(want), Keys())
	}
}

func TestLookup_Absent(t *testing.T) {
	for _, key := range []string{"", "Sleep", " sleep", "tv", "unknown"} {
		if got, ok := Lookup(key); ok {
			t.Errorf("Lookup(%q) expected absent, got %v", key, got)
		}
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	got, _ := Lookup("help")
	got[0] = "mutated"
	again, _ := Lookup("help")
	if again[0] != "call for help" {
		t.Errorf("catalog was mutated through Lookup result: %v", again)
	}
}

func TestKeys_Sorted(t *testing.T) {
	keys := Keys()
	if !slices.IsSorted(keys) {
		t.Errorf("Keys() not sorted: %v", keys)
	}
}

func TestNormalizeKey(t *testing.T) {
	if got := NormalizeKey("  Watch TV \t"); got != "watch tv" {
		t.Errorf("NormalizeKey = %q", got)
	}
}

func TestBasePhrasesHaveCatalogEntries(t *testing.T) {
	for _, b := range BasePhrases {
		if _, ok := Lookup(NormalizeKey(b)); !ok {
			t.Errorf("base phrase %q has no catalog entry", b)
		}
	}
}
