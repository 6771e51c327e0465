package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
)

// Relay forwards spoken sentences to one fixed caregiver recipient.
type Relay struct {
	svc     Service
	to      string
	timeout time.Duration
}

// NewRelay validates the recipient against svc and returns a Relay.
func NewRelay(svc Service, recipient string) (*Relay, error) {
	to, err := svc.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid relay recipient: %w", err)
	}
	slog.Debug("messaging.NewRelay: configured", "provider", svc.Name(), "to", to)
	return &Relay{svc: svc, to: to, timeout: DefaultSendTimeout}, nil
}

// Provider returns the name of the underlying service.
func (r *Relay) Provider() string {
	return r.svc.Name()
}

// Forward sends the entry in its display form.
func (r *Relay) Forward(ctx context.Context, e models.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.svc.SendMessage(ctx, r.to, e.Display()); err != nil {
		slog.Warn("Relay.Forward: send failed", "error", err, "provider", r.svc.Name(), "session_id", e.SessionID)
		return fmt.Errorf("relay via %s failed: %w", r.svc.Name(), err)
	}
	return nil
}

// Close stops the underlying service.
func (r *Relay) Close() error {
	return r.svc.Stop()
}
