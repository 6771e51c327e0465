package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
	"github.com/BTreeMap/TalkingPrompt/internal/twiliowhatsapp"
	"github.com/BTreeMap/TalkingPrompt/internal/whatsapp"
)

func TestNewRelay_ValidatesRecipient(t *testing.T) {
	if _, err := NewRelay(NewWhatsAppService(whatsapp.NewMockClient()), "n/a"); err == nil {
		t.Error("expected invalid recipient error")
	}
}

func TestRelay_Forward(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	r, err := NewRelay(NewTwilioService(mock), "+1 555 123 4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Provider() != "twilio" {
		t.Errorf("unexpected provider %q", r.Provider())
	}

	e := models.HistoryEntry{SessionID: "s1", Text: "My tummy is hungry", Time: time.Now()}
	if err := r.Forward(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].To != "+15551234567" || sent[0].Body != e.Display() || !strings.HasSuffix(sent[0].Body, "My tummy is hungry") {
		t.Errorf("unexpected message %+v", sent[0])
	}
}

func TestRelay_ForwardError(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	mock.Err = errors.New("rate limited")
	r, err := NewRelay(NewTwilioService(mock), "15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = r.Forward(context.Background(), models.HistoryEntry{SessionID: "s1", Text: "hi", Time: time.Now()})
	if err == nil || !strings.Contains(err.Error(), "twilio") {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}
