// Package store provides storage backends for EnrollPipe.
//
// This file implements the SQLite-backed store for sessions, the message
// log, and inbound de-duplication records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/FarmLedger/EnrollPipe/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.SQLiteDSN != "")

	dsn := cfg.SQLiteDSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func isSQLiteConstraint(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// GetSession returns the session for a phone number, or (nil, nil) when no
// session row exists.
func (s *SQLiteStore) GetSession(ctx context.Context, phoneNumber string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT phone_number, state, country, language, fields, turn_count, last_prompted_field, stall_count, last_reply, account_id, version, created_at, updated_at FROM sessions WHERE phone_number = ?`, phoneNumber)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetSession no session found", "phone", phoneNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to get session for %s: %w", phoneNumber, err)
	}
	slog.Debug("SQLiteStore GetSession succeeded", "phone", phoneNumber, "state", sess.State, "version", sess.Version)
	return sess, nil
}

// SaveSession persists a session with a compare-and-swap on the version
// column. Version zero means the session has never been saved.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *models.Session) error {
	fieldsJSON, err := json.Marshal(session.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal session fields: %w", err)
	}
	now := time.Now()
	if session.Version == 0 {
		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
		_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (phone_number, state, country, language, fields, turn_count, last_prompted_field, stall_count, last_reply, account_id, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			session.PhoneNumber, string(session.State), session.Locale.Country, session.Locale.Language, string(fieldsJSON), session.TurnCount, session.LastPromptedField, session.StallCount, session.LastReply, session.AccountID, session.CreatedAt, now)
		if err != nil {
			if isSQLiteConstraint(err) {
				slog.Warn("SQLiteStore SaveSession insert conflict", "phone", session.PhoneNumber)
				return ErrSessionConflict
			}
			slog.Error("SQLiteStore SaveSession insert failed", "error", err, "phone", session.PhoneNumber)
			return fmt.Errorf("failed to insert session for %s: %w", session.PhoneNumber, err)
		}
		session.Version = 1
		session.UpdatedAt = now
		slog.Debug("SQLiteStore SaveSession inserted", "phone", session.PhoneNumber, "state", session.State)
		return nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET state = ?, country = ?, language = ?, fields = ?, turn_count = ?, last_prompted_field = ?, stall_count = ?, last_reply = ?, account_id = ?, version = version + 1, updated_at = ? WHERE phone_number = ? AND version = ?`,
		string(session.State), session.Locale.Country, session.Locale.Language, string(fieldsJSON), session.TurnCount, session.LastPromptedField, session.StallCount, session.LastReply, session.AccountID, now, session.PhoneNumber, session.Version)
	if err != nil {
		slog.Error("SQLiteStore SaveSession update failed", "error", err, "phone", session.PhoneNumber)
		return fmt.Errorf("failed to update session for %s: %w", session.PhoneNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		slog.Warn("SQLiteStore SaveSession version conflict", "phone", session.PhoneNumber, "version", session.Version)
		return ErrSessionConflict
	}
	session.Version++
	session.UpdatedAt = now
	slog.Debug("SQLiteStore SaveSession updated", "phone", session.PhoneNumber, "state", session.State, "version", session.Version)
	return nil
}

// AddMessage appends a message to the conversation log.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, phone_number, body, direction, country, language, provider_message_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.PhoneNumber, msg.Body, string(msg.Direction), msg.Locale.Country, msg.Locale.Language, msg.ProviderMessageID, msg.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "phone", msg.PhoneNumber)
		return fmt.Errorf("failed to insert message for %s: %w", msg.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "phone", msg.PhoneNumber, "direction", msg.Direction)
	return nil
}

// GetMessages returns the conversation log ordered by creation time.
func (s *SQLiteStore) GetMessages(ctx context.Context, phoneNumber string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, phone_number, body, direction, country, language, provider_message_id, created_at FROM messages WHERE phone_number = ? ORDER BY created_at ASC`, phoneNumber)
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to query messages for %s: %w", phoneNumber, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var dir string
		if err := rows.Scan(&m.ID, &m.PhoneNumber, &m.Body, &dir, &m.Locale.Country, &m.Locale.Language, &m.ProviderMessageID, &m.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Direction = models.MessageDirection(dir)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore GetMessages succeeded", "phone", phoneNumber, "count", len(messages))
	return messages, nil
}

// RecordInbound records a provider message ID, reporting whether the message
// still needs processing.
func (s *SQLiteStore) RecordInbound(ctx context.Context, providerMessageID, phoneNumber string) (bool, error) {
	if providerMessageID == "" {
		return true, nil
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO inbound_dedup (provider_message_id, phone_number, received_at, processed) VALUES (?, ?, ?, 0)`,
		providerMessageID, phoneNumber, time.Now())
	if err != nil {
		slog.Error("SQLiteStore RecordInbound failed", "error", err, "provider_message_id", providerMessageID)
		return false, fmt.Errorf("failed to record inbound message %s: %w", providerMessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		slog.Debug("SQLiteStore RecordInbound", "provider_message_id", providerMessageID, "new", true)
		return true, nil
	}
	// Already recorded. An unprocessed record means the earlier turn was
	// aborted, so this delivery still needs processing.
	var processed bool
	if err := s.db.QueryRowContext(ctx, `SELECT processed FROM inbound_dedup WHERE provider_message_id = ?`, providerMessageID).Scan(&processed); err != nil {
		slog.Error("SQLiteStore RecordInbound processed check failed", "error", err, "provider_message_id", providerMessageID)
		return false, fmt.Errorf("failed to check processed flag for %s: %w", providerMessageID, err)
	}
	slog.Debug("SQLiteStore RecordInbound", "provider_message_id", providerMessageID, "new", false, "processed", processed)
	return !processed, nil
}

// MarkProcessed flags a recorded inbound message as handled.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE inbound_dedup SET processed = 1 WHERE provider_message_id = ?`, providerMessageID)
	if err != nil {
		slog.Error("SQLiteStore MarkProcessed failed", "error", err, "provider_message_id", providerMessageID)
		return fmt.Errorf("failed to mark message %s processed: %w", providerMessageID, err)
	}
	return nil
}

// ClearAll deletes all rows from every table (for tests).
func (s *SQLiteStore) ClearAll() error {
	for _, table := range []string{"sessions", "messages", "inbound_dedup"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			slog.Error("SQLiteStore ClearAll failed", "error", err, "table", table)
			return err
		}
	}
	slog.Debug("SQLiteStore ClearAll succeeded")
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
