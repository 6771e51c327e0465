// Package messaging relays spoken sentences to a caregiver over a text
// messaging provider.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Constants for messaging service configuration
const (
	// MinPhoneDigits is the shortest phone number accepted as a recipient.
	MinPhoneDigits = 6
	// DefaultSendTimeout bounds a single relay send.
	DefaultSendTimeout = 15 * time.Second
)

// ErrServiceStopped is returned by SendMessage after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// Name identifies the provider in logs and health output.
	Name() string

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Stop rejects further sends and releases provider resources.
	Stop() error
}

// canonicalizePhone strips everything but digits and checks the length.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}
