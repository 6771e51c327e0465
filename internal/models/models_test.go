package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParsePronoun(t *testing.T) {
	cases := []struct {
		in   string
		want Pronoun
	}{
		{"I", PronounI},
		{"i", PronounI},
		{" We ", PronounWe},
		{"WE", PronounWe},
		{"my", PronounMy},
		{"My", PronounMy},
	}
	for _, c := range cases {
		got, err := ParsePronoun(c.in)
		if err != nil {
			t.Fatalf("ParsePronoun(%q) unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParsePronoun(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParsePronoun_Invalid(t *testing.T) {
	for _, in := range []string{"", "you", "they", "mine", "I am"} {
		if _, err := ParsePronoun(in); !errors.Is(err, ErrInvalidPronoun) {
			t.Errorf("ParsePronoun(%q) expected ErrInvalidPronoun, got %v", in, err)
		}
	}
}

func TestPronounsOrder(t *testing.T) {
	want := []Pronoun{PronounI, PronounWe, PronounMy}
	if len(Pronouns) != len(want) {
		t.Fatalf("expected %d pronouns, got %d", len(want), len(Pronouns))
	}
	for i := range want {
		if Pronouns[i] != want[i] {
			t.Errorf("Pronouns[%d] = %q, want %q", i, Pronouns[i], want[i])
		}
		if !Pronouns[i].IsValid() {
			t.Errorf("Pronouns[%d] should be valid", i)
		}
	}
	if Pronoun("They").IsValid() {
		t.Error("unexpected valid pronoun They")
	}
}

func TestPronounJSON(t *testing.T) {
	var body struct {
		Pronoun Pronoun `json:"pronoun"`
	}
	if err := json.Unmarshal([]byte(`{"pronoun":"we"}`), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Pronoun != PronounWe {
		t.Errorf("expected We, got %q", body.Pronoun)
	}
	if err := json.Unmarshal([]byte(`{"pronoun":"they"}`), &body); err == nil {
		t.Error("expected error decoding unsupported pronoun")
	}

	out, err := json.Marshal(struct {
		Pronoun Pronoun `json:"pronoun"`
	}{PronounMy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"pronoun":"My"}` {
		t.Errorf("unexpected JSON %s", out)
	}
}

func TestSessionValidate(t *testing.T) {
	ok := Session{ID: "s1", Pronoun: PronounI}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Session{Pronoun: PronounI}).Validate(); !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("expected ErrEmptySessionID, got %v", err)
	}
	if err := (Session{ID: "s1", Pronoun: "You"}).Validate(); !errors.Is(err, ErrInvalidPronoun) {
		t.Errorf("expected ErrInvalidPronoun, got %v", err)
	}
	long := Session{ID: "s1", Pronoun: PronounWe, BasePhrase: strings.Repeat("a", MaxBasePhraseLength+1)}
	if err := long.Validate(); !errors.Is(err, ErrBasePhraseTooLong) {
		t.Errorf("expected ErrBasePhraseTooLong, got %v", err)
	}
}

func TestValidateActivity(t *testing.T) {
	if err := ValidateActivity("order food"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateActivity("   "); !errors.Is(err, ErrEmptyActivity) {
		t.Errorf("expected ErrEmptyActivity, got %v", err)
	}
	if err := ValidateActivity(strings.Repeat("x", MaxActivityLength+1)); !errors.Is(err, ErrActivityTooLong) {
		t.Errorf("expected ErrActivityTooLong, got %v", err)
	}
}

func TestHistoryEntryDisplay(t *testing.T) {
	ts := time.Date(2024, 5, 1, 14, 3, 9, 0, time.Local)
	h := HistoryEntry{Text: "I want to eat dinner", Time: ts}
	want := "2:03:09 PM — I want to eat dinner"
	if got := h.Display(); got != want {
		t.Errorf("Display() = %q, want %q", got, want)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := SuccessWithMessage("done", 3)
	if ok.Status != string(APIStatusOK) || ok.Message != "done" || ok.Result != 3 {
		t.Errorf("unexpected success response %+v", ok)
	}
	e := Error("boom")
	if e.Status != string(APIStatusError) || e.Message != "boom" || e.Result != nil {
		t.Errorf("unexpected error response %+v", e)
	}
}
