// Package store provides storage backends for EnrollPipe.
//
// This file implements the PostgreSQL-backed store for shared deployments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/FarmLedger/EnrollPipe/internal/models"
	"github.com/lib/pq"
)

// Constants for PostgreSQL connection pool configuration
const (
	// DefaultMaxOpenConns defines the maximum number of open connections
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns defines the maximum number of idle connections
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime defines the maximum lifetime of a connection
	DefaultConnMaxLifetime = 5 * time.Minute

	// pgUniqueViolation is the PostgreSQL error code for unique_violation.
	pgUniqueViolation = "23505"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.PostgresDSN != "")

	dsn := cfg.PostgresDSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func isPostgresUniqueViolation(err error) bool {
	var perr *pq.Error
	if errors.As(err, &perr) {
		return string(perr.Code) == pgUniqueViolation
	}
	return false
}

// GetSession returns the session for a phone number, or (nil, nil) when no
// session row exists.
func (s *PostgresStore) GetSession(ctx context.Context, phoneNumber string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT phone_number, state, country, language, fields, turn_count, last_prompted_field, stall_count, last_reply, account_id, version, created_at, updated_at FROM sessions WHERE phone_number = $1`, phoneNumber)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetSession no session found", "phone", phoneNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to get session for %s: %w", phoneNumber, err)
	}
	slog.Debug("PostgresStore GetSession succeeded", "phone", phoneNumber, "state", sess.State, "version", sess.Version)
	return sess, nil
}

// SaveSession persists a session with a compare-and-swap on the version
// column. Version zero means the session has never been saved.
func (s *PostgresStore) SaveSession(ctx context.Context, session *models.Session) error {
	fieldsJSON, err := json.Marshal(session.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal session fields: %w", err)
	}
	now := time.Now()
	if session.Version == 0 {
		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
		_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (phone_number, state, country, language, fields, turn_count, last_prompted_field, stall_count, last_reply, account_id, version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)`,
			session.PhoneNumber, string(session.State), session.Locale.Country, session.Locale.Language, fieldsJSON, session.TurnCount, session.LastPromptedField, session.StallCount, session.LastReply, session.AccountID, session.CreatedAt, now)
		if err != nil {
			if isPostgresUniqueViolation(err) {
				slog.Warn("PostgresStore SaveSession insert conflict", "phone", session.PhoneNumber)
				return ErrSessionConflict
			}
			slog.Error("PostgresStore SaveSession insert failed", "error", err, "phone", session.PhoneNumber)
			return fmt.Errorf("failed to insert session for %s: %w", session.PhoneNumber, err)
		}
		session.Version = 1
		session.UpdatedAt = now
		slog.Debug("PostgresStore SaveSession inserted", "phone", session.PhoneNumber, "state", session.State)
		return nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET state = $1, country = $2, language = $3, fields = $4, turn_count = $5, last_prompted_field = $6, stall_count = $7, last_reply = $8, account_id = $9, version = version + 1, updated_at = $10 WHERE phone_number = $11 AND version = $12`,
		string(session.State), session.Locale.Country, session.Locale.Language, fieldsJSON, session.TurnCount, session.LastPromptedField, session.StallCount, session.LastReply, session.AccountID, now, session.PhoneNumber, session.Version)
	if err != nil {
		slog.Error("PostgresStore SaveSession update failed", "error", err, "phone", session.PhoneNumber)
		return fmt.Errorf("failed to update session for %s: %w", session.PhoneNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		slog.Warn("PostgresStore SaveSession version conflict", "phone", session.PhoneNumber, "version", session.Version)
		return ErrSessionConflict
	}
	session.Version++
	session.UpdatedAt = now
	slog.Debug("PostgresStore SaveSession updated", "phone", session.PhoneNumber, "state", session.State, "version", session.Version)
	return nil
}

// AddMessage appends a message to the conversation log.
func (s *PostgresStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, phone_number, body, direction, country, language, provider_message_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.PhoneNumber, msg.Body, string(msg.Direction), msg.Locale.Country, msg.Locale.Language, msg.ProviderMessageID, msg.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "phone", msg.PhoneNumber)
		return fmt.Errorf("failed to insert message for %s: %w", msg.PhoneNumber, err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "phone", msg.PhoneNumber, "direction", msg.Direction)
	return nil
}

// GetMessages returns the conversation log ordered by creation time.
func (s *PostgresStore) GetMessages(ctx context.Context, phoneNumber string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, phone_number, body, direction, country, language, provider_message_id, created_at FROM messages WHERE phone_number = $1 ORDER BY created_at ASC`, phoneNumber)
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to query messages for %s: %w", phoneNumber, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var dir string
		if err := rows.Scan(&m.ID, &m.PhoneNumber, &m.Body, &dir, &m.Locale.Country, &m.Locale.Language, &m.ProviderMessageID, &m.CreatedAt); err != nil {
			slog.Error("PostgresStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Direction = models.MessageDirection(dir)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore GetMessages succeeded", "phone", phoneNumber, "count", len(messages))
	return messages, nil
}

// RecordInbound records a provider message ID, reporting whether the message
// still needs processing.
func (s *PostgresStore) RecordInbound(ctx context.Context, providerMessageID, phoneNumber string) (bool, error) {
	if providerMessageID == "" {
		return true, nil
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO inbound_dedup (provider_message_id, phone_number, received_at, processed) VALUES ($1, $2, $3, FALSE) ON CONFLICT (provider_message_id) DO NOTHING`,
		providerMessageID, phoneNumber, time.Now())
	if err != nil {
		slog.Error("PostgresStore RecordInbound failed", "error", err, "provider_message_id", providerMessageID)
		return false, fmt.Errorf("failed to record inbound message %s: %w", providerMessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		slog.Debug("PostgresStore RecordInbound", "provider_message_id", providerMessageID, "new", true)
		return true, nil
	}
	// Already recorded. An unprocessed record means the earlier turn was
	// aborted, so this delivery still needs processing.
	var processed bool
	if err := s.db.QueryRowContext(ctx, `SELECT processed FROM inbound_dedup WHERE provider_message_id = $1`, providerMessageID).Scan(&processed); err != nil {
		slog.Error("PostgresStore RecordInbound processed check failed", "error", err, "provider_message_id", providerMessageID)
		return false, fmt.Errorf("failed to check processed flag for %s: %w", providerMessageID, err)
	}
	slog.Debug("PostgresStore RecordInbound", "provider_message_id", providerMessageID, "new", false, "processed", processed)
	return !processed, nil
}

// MarkProcessed flags a recorded inbound message as handled.
func (s *PostgresStore) MarkProcessed(ctx context.Context, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE inbound_dedup SET processed = TRUE WHERE provider_message_id = $1`, providerMessageID)
	if err != nil {
		slog.Error("PostgresStore MarkProcessed failed", "error", err, "provider_message_id", providerMessageID)
		return fmt.Errorf("failed to mark message %s processed: %w", providerMessageID, err)
	}
	return nil
}

// ClearAll deletes all rows from every table (for tests).
func (s *PostgresStore) ClearAll() error {
	for _, table := range []string{"sessions", "messages", "inbound_dedup"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			slog.Error("PostgresStore ClearAll failed", "error", err, "table", table)
			return err
		}
	}
	slog.Debug("PostgresStore ClearAll succeeded")
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
