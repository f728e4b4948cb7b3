// Package store provides persistence for registration sessions, the
// conversation message log, and inbound de-duplication records.
//
// Three implementations share one interface: InMemoryStore for tests,
// SQLiteStore for single-node deployments, and PostgresStore for shared
// deployments. Session saves are guarded by a compare-and-swap on the
// session version so concurrent turns for the same number cannot silently
// overwrite each other.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

// Error variables for store operations.
var (
	// ErrSessionConflict is returned by SaveSession when the stored version
	// no longer matches the version the caller loaded.
	ErrSessionConflict = errors.New("session version conflict")
	// ErrDuplicateMessage is returned when a provider message ID has already
	// been recorded.
	ErrDuplicateMessage = errors.New("duplicate provider message id")
)

// Store defines the persistence interface for EnrollPipe.
type Store interface {
	// GetSession returns the session for a phone number, or (nil, nil) when
	// no session exists yet.
	GetSession(ctx context.Context, phoneNumber string) (*models.Session, error)
	// SaveSession persists a session with optimistic concurrency control.
	// The session's Version must equal the stored version (zero for a new
	// session); on success the version is incremented in place. A stale
	// version yields ErrSessionConflict and no write.
	SaveSession(ctx context.Context, session *models.Session) error
	// AddMessage appends an entry to the conversation log.
	AddMessage(ctx context.Context, msg *models.Message) error
	// GetMessages returns the conversation log for a phone number ordered by
	// creation time.
	GetMessages(ctx context.Context, phoneNumber string) ([]models.Message, error)
	// RecordInbound records a provider message ID for de-duplication. It
	// reports true when the message should be processed: either the ID is
	// new, or it was recorded earlier but the turn never reached
	// MarkProcessed. Only IDs marked processed report false, so a turn
	// aborted mid-way stays re-processable on the transport's next delivery.
	RecordInbound(ctx context.Context, providerMessageID, phoneNumber string) (bool, error)
	// MarkProcessed flags a recorded inbound message as fully handled.
	// Deliveries of the ID after this point are duplicates.
	MarkProcessed(ctx context.Context, providerMessageID string) error
	// Close releases any resources held by the store.
	Close() error
}

type dedupRecord struct {
	phoneNumber string
	receivedAt  time.Time
	processed   bool
}

// InMemoryStore is a Store backed by maps, for tests and local development.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages []models.Message
	dedup    map[string]*dedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.Session),
		dedup:    make(map[string]*dedupRecord),
	}
}

var _ Store = (*InMemoryStore)(nil)

func copySession(s *models.Session) *models.Session {
	cp := *s
	cp.Fields = make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

// GetSession returns a copy of the stored session, or (nil, nil) when absent.
func (s *InMemoryStore) GetSession(_ context.Context, phoneNumber string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[phoneNumber]
	if !ok {
		return nil, nil
	}
	return copySession(sess), nil
}

// SaveSession persists the session if its version matches the stored one.
func (s *InMemoryStore) SaveSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[session.PhoneNumber]
	if !ok {
		if session.Version != 0 {
			return ErrSessionConflict
		}
	} else if existing.Version != session.Version {
		return ErrSessionConflict
	}
	session.Version++
	session.UpdatedAt = time.Now()
	s.sessions[session.PhoneNumber] = copySession(session)
	return nil
}

// AddMessage appends a message to the log.
func (s *InMemoryStore) AddMessage(_ context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *msg)
	return nil
}

// GetMessages returns the log for one phone number in creation order.
func (s *InMemoryStore) GetMessages(_ context.Context, phoneNumber string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.PhoneNumber == phoneNumber {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RecordInbound records a provider message ID, reporting whether the message
// still needs processing.
func (s *InMemoryStore) RecordInbound(_ context.Context, providerMessageID, phoneNumber string) (bool, error) {
	if providerMessageID == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[providerMessageID]; ok {
		return !rec.processed, nil
	}
	s.dedup[providerMessageID] = &dedupRecord{phoneNumber: phoneNumber, receivedAt: time.Now()}
	return true, nil
}

// MarkProcessed flags a recorded inbound message as handled.
func (s *InMemoryStore) MarkProcessed(_ context.Context, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[providerMessageID]; ok {
		rec.processed = true
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
