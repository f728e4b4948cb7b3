// Package models defines the core data structures for EnrollPipe.
//
// It includes the registration session, the message log entry, and the
// request/response types shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// SessionState describes where a registration conversation currently is.
type SessionState string

const (
	// StateCollecting means required fields are still being gathered.
	StateCollecting SessionState = "COLLECTING"
	// StateAwaitingConfirmation means all mandatory fields are present and the
	// user has been shown a summary to confirm.
	StateAwaitingConfirmation SessionState = "AWAITING_CONFIRMATION"
	// StateComplete means the account has been provisioned. Terminal.
	StateComplete SessionState = "COMPLETE"
	// StateError means registration failed unrecoverably. Terminal.
	StateError SessionState = "ERROR"
)

// IsValidSessionState checks if the given session state is supported.
func IsValidSessionState(s SessionState) bool {
	switch s {
	case StateCollecting, StateAwaitingConfirmation, StateComplete, StateError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a session in this state accepts further turns.
func (s SessionState) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// Locale is the (country, language) pair inferred from a phone number.
type Locale struct {
	Country  string `json:"country"`
	Language string `json:"language"`
}

const (
	// CountryUnknown is the sentinel returned when no calling-code prefix
	// matches. It means "locale unknown", not an error.
	CountryUnknown = "ZZ"
	// LanguageFallback is used whenever no better language is known.
	LanguageFallback = "en"
)

// DefaultLocale returns the unknown-country fallback locale.
func DefaultLocale() Locale {
	return Locale{Country: CountryUnknown, Language: LanguageFallback}
}

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum accepted inbound message length
	MaxMessageBodyLength = 4096
	// MaxFieldValueLength defines the maximum stored length for a single field value
	MaxFieldValueLength = 512
	// MinPhoneDigits defines the minimum digit count for a canonical phone number
	MinPhoneDigits = 6
)

// Error variables for better error handling and testability
var (
	ErrEmptyPhoneNumber   = errors.New("phone number cannot be empty")
	ErrEmptyMessageBody   = errors.New("message body cannot be empty")
	ErrMessageBodyTooLong = errors.New("message body exceeds maximum length")
	ErrInvalidState       = errors.New("invalid session state")
	ErrInvalidDirection   = errors.New("invalid message direction")
	ErrFieldValueTooLong  = errors.New("field value exceeds maximum length")
)

// Session is the durable per-number conversational state. One row per phone
// number; mutated on every inbound message, never physically deleted.
type Session struct {
	PhoneNumber       string            `json:"phone_number"`
	State             SessionState      `json:"state"`
	Locale            Locale            `json:"locale"`
	Fields            map[string]string `json:"fields"`
	TurnCount         int               `json:"turn_count"`
	LastPromptedField string            `json:"last_prompted_field,omitempty"`
	// StallCount counts consecutive turns without field progress while the
	// same question is open.
	StallCount int    `json:"stall_count,omitempty"`
	LastReply  string `json:"last_reply,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
	// Version backs compare-and-swap saves; zero means not yet persisted.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a fresh session in COLLECTING with no fields set.
func NewSession(phoneNumber string, locale Locale) *Session {
	now := time.Now()
	return &Session{
		PhoneNumber: phoneNumber,
		State:       StateCollecting,
		Locale:      locale,
		Fields:      make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetField stores a field value, trimming whitespace first. Blank values are
// dropped entirely so that absence never degrades into "answered blank".
func (s *Session) SetField(name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if len(value) > MaxFieldValueLength {
		value = value[:MaxFieldValueLength]
	}
	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	s.Fields[name] = value
}

// Field returns the trimmed value for a field and whether it is set.
func (s *Session) Field(name string) (string, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// MessageDirection tags a logged message as inbound or outbound.
type MessageDirection string

const (
	// DirectionInbound is a message received from the user.
	DirectionInbound MessageDirection = "inbound"
	// DirectionOutbound is a reply sent by the engine.
	DirectionOutbound MessageDirection = "outbound"
)

// IsValidDirection checks if the given message direction is supported.
func IsValidDirection(d MessageDirection) bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Message is an immutable conversation-log entry. Many messages reference one
// session's phone number, ordered by CreatedAt.
type Message struct {
	ID                string           `json:"id"`
	PhoneNumber       string           `json:"phone_number"`
	Body              string           `json:"body"`
	Direction         MessageDirection `json:"direction"`
	Locale            Locale           `json:"locale"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Validate performs basic validation on a message log entry.
func (m *Message) Validate() error {
	if m.PhoneNumber == "" {
		return ErrEmptyPhoneNumber
	}
	if m.Body == "" {
		return ErrEmptyMessageBody
	}
	if len(m.Body) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	if !IsValidDirection(m.Direction) {
		return ErrInvalidDirection
	}
	return nil
}

// Response represents an incoming message from a participant, as delivered by
// a messaging service or webhook.
type Response struct {
	From              string `json:"from"`
	Body              string `json:"body"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Time              int64  `json:"time"`
}

// WebhookRequest is the JSON payload accepted by the generic inbound webhook.
type WebhookRequest struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"`
}

// Validate checks the webhook payload before it reaches the engine.
func (r *WebhookRequest) Validate() error {
	if strings.TrimSpace(r.From) == "" {
		return ErrEmptyPhoneNumber
	}
	if strings.TrimSpace(r.Body) == "" {
		return ErrEmptyMessageBody
	}
	if len(r.Body) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}

// WebhookReply is the JSON body returned by the generic inbound webhook.
type WebhookReply struct {
	Reply string `json:"reply"`
}
