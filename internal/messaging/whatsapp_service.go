package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/TalkingPrompt/internal/whatsapp"
)

// WhatsAppService implements Service using the whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client whatsapp.WhatsAppSender

	mu      sync.RWMutex
	stopped bool
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	if _, ok := client.(*whatsapp.Client); ok {
		slog.Debug("WhatsAppService created with full client")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return &WhatsAppService{client: client}
}

// Name returns "whatsapp".
func (s *WhatsAppService) Name() string {
	return "whatsapp"
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits,
// which is the user part of a WhatsApp JID.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("WhatsAppService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendMessage sends body to the canonicalized recipient.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	slog.Debug("WhatsAppService SendMessage invoked", "to", canonicalTo, "body_length", len(body))
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsAppService message sent", "to", canonicalTo)
	return nil
}

// Stop rejects further sends and disconnects the underlying client.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if waClient, ok := s.client.(*whatsapp.Client); ok {
		waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}
