// Package messaging provides pluggable message transports for EnrollPipe.
//
// Two implementations exist: WhatsAppService speaks the WhatsApp network
// directly through whatsmeow, TwilioService goes through the Twilio WhatsApp
// API. Both feed inbound messages into a Responses channel consumed by the
// Dispatcher.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the buffer size for response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when operations are attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// phone number into +<digits> form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming participant messages.
	Responses() <-chan models.Response
}

// canonicalizePhoneNumber strips formatting and transport prefixes from a
// phone number and validates the digit count.
func canonicalizePhoneNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	trimmed := strings.TrimPrefix(strings.TrimSpace(recipient), "whatsapp:")
	canonical := phoneNumberRegex.ReplaceAllString(trimmed, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < models.MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, models.MinPhoneDigits)
	}
	if trimmed != "+"+canonical {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", "+"+canonical)
	}
	return "+" + canonical, nil
}

// MockService is an in-memory Service for tests. Sent messages are recorded
// and inbound messages can be injected with Receive.
type MockService struct {
	responses chan models.Response
	mu        sync.Mutex
	sent      []string
	// SendErr, when set, is returned by SendMessage.
	SendErr error
}

var _ Service = (*MockService)(nil)

// NewMockService creates a mock messaging service.
func NewMockService() *MockService {
	return &MockService{responses: make(chan models.Response, DefaultChannelBufferSize)}
}

// ValidateAndCanonicalizeRecipient applies the shared canonicalization rules.
func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhoneNumber(recipient)
}

// SendMessage records the outbound message.
func (m *MockService) SendMessage(_ context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+body)
	return nil
}

// Sent returns a snapshot of recorded outbound messages as "to|body".
func (m *MockService) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// Start is a no-op.
func (m *MockService) Start(_ context.Context) error { return nil }

// Stop closes the responses channel.
func (m *MockService) Stop() error {
	close(m.responses)
	return nil
}

// Responses returns the injected inbound messages.
func (m *MockService) Responses() <-chan models.Response { return m.responses }

// Receive injects an inbound message as if it arrived from the transport.
func (m *MockService) Receive(resp models.Response) {
	m.responses <- resp
}
