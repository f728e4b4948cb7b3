package store

import (
	"encoding/json"
	"fmt"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession reads one sessions row into a models.Session. Column order
// must match the SELECT lists in sqlite.go and postgres.go.
func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var state string
	var fieldsJSON []byte
	err := row.Scan(&sess.PhoneNumber, &state, &sess.Locale.Country, &sess.Locale.Language, &fieldsJSON,
		&sess.TurnCount, &sess.LastPromptedField, &sess.StallCount, &sess.LastReply, &sess.AccountID,
		&sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.State = models.SessionState(state)
	sess.Fields = make(map[string]string)
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &sess.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session fields: %w", err)
		}
	}
	return &sess, nil
}
