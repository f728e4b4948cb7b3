package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FarmLedger/EnrollPipe/internal/locale"
	"github.com/FarmLedger/EnrollPipe/internal/models"
	"github.com/FarmLedger/EnrollPipe/internal/provision"
	"github.com/FarmLedger/EnrollPipe/internal/store"
	"github.com/google/uuid"
)

// StallThreshold is the number of consecutive no-progress turns on the same
// question before the reply points the user at human support.
const StallThreshold = 3

// Engine drives one registration conversation per phone number: it merges
// extracted fields into the session, evaluates completion, runs the
// confirmation step, and hands completed registrations to the provisioner
// exactly once.
type Engine struct {
	store       store.Store
	extractor   *Extractor
	provisioner provision.Provisioner
	locks       *phoneLocks
}

// NewEngine creates a registration engine.
func NewEngine(st store.Store, extractor *Extractor, provisioner provision.Provisioner) *Engine {
	slog.Debug("flow.NewEngine: creating engine", "hasStore", st != nil, "hasExtractor", extractor != nil, "hasProvisioner", provisioner != nil)
	return &Engine{
		store:       st,
		extractor:   extractor,
		provisioner: provisioner,
		locks:       newPhoneLocks(),
	}
}

// HandleMessage processes one inbound message and returns the reply to send.
// Duplicate deliveries (same provider message ID) return the previous reply
// without re-processing. Storage failures produce a localized retry-later
// reply and leave the previously persisted state untouched.
func (e *Engine) HandleMessage(ctx context.Context, resp models.Response) (string, error) {
	phone := strings.TrimSpace(resp.From)
	body := strings.TrimSpace(resp.Body)
	if phone == "" {
		return "", models.ErrEmptyPhoneNumber
	}
	if body == "" {
		return "", models.ErrEmptyMessageBody
	}
	if len(body) > models.MaxMessageBodyLength {
		body = body[:models.MaxMessageBodyLength]
	}

	unlock := e.locks.Lock(phone)
	defer unlock()

	// Provider retries of the same message must not advance the dialogue.
	// An ID recorded by a turn that later failed reports processable again,
	// so the retry runs the turn instead of eating it.
	needsWork, err := e.store.RecordInbound(ctx, resp.ProviderMessageID, phone)
	if err != nil {
		slog.Error("flow.Engine.HandleMessage: dedup record failed", "error", err, "phone", phone)
		return retryLater(nil, phone), nil
	}
	if !needsWork {
		slog.Info("flow.Engine.HandleMessage: duplicate delivery, resending last reply", "phone", phone, "provider_message_id", resp.ProviderMessageID)
		session, err := e.store.GetSession(ctx, phone)
		if err == nil && session != nil && session.LastReply != "" {
			return session.LastReply, nil
		}
		return retryLater(session, phone), nil
	}

	session, err := e.store.GetSession(ctx, phone)
	if err != nil {
		// The message stays unprocessed, so the transport's next delivery
		// re-runs this turn once storage recovers.
		slog.Error("flow.Engine.HandleMessage: session load failed", "error", err, "phone", phone)
		return retryLater(nil, phone), nil
	}
	if session == nil {
		loc := locale.Detect(phone)
		session = models.NewSession(phone, loc)
		slog.Info("flow.Engine.HandleMessage: new session", "phone", phone, "country", loc.Country, "language", loc.Language)
	}

	// The extractor sees the durable log plus the current inbound in memory;
	// nothing is written to the log until the turn is persisted.
	history, err := e.store.GetMessages(ctx, phone)
	if err != nil {
		slog.Warn("flow.Engine.HandleMessage: history load failed, extracting without it", "error", err, "phone", phone)
		history = nil
	}

	reply, err := e.processTurn(ctx, session, history, body)
	if err != nil {
		return "", err
	}

	session.TurnCount++
	session.LastReply = reply
	if err := e.store.SaveSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrSessionConflict) {
			// Another worker advanced the session first; its reply stands and
			// this turn's work is discarded.
			slog.Warn("flow.Engine.HandleMessage: session conflict, discarding turn", "phone", phone)
			current, loadErr := e.store.GetSession(ctx, phone)
			if loadErr == nil && current != nil && current.LastReply != "" {
				return current.LastReply, nil
			}
			return retryLater(session, phone), nil
		}
		slog.Error("flow.Engine.HandleMessage: session save failed", "error", err, "phone", phone)
		return retryLater(session, phone), nil
	}

	e.logMessage(ctx, session, body, models.DirectionInbound, resp.ProviderMessageID)
	e.logMessage(ctx, session, reply, models.DirectionOutbound, "")
	if markErr := e.store.MarkProcessed(ctx, resp.ProviderMessageID); markErr != nil {
		slog.Warn("flow.Engine.HandleMessage: failed to mark message processed", "error", markErr, "phone", phone)
	}
	slog.Info("flow.Engine.HandleMessage: turn processed", "phone", phone, "state", session.State, "turn", session.TurnCount)
	return reply, nil
}

// retryLater picks the retry-later reply for a turn that could not run to
// completion, in the session's language when a session is available and the
// detected language otherwise.
func retryLater(session *models.Session, phone string) string {
	lang := locale.Detect(phone).Language
	if session != nil {
		lang = session.Locale.Language
	}
	return catalogFor(lang).storageRetry
}

// processTurn routes a message by session state and returns the reply. The
// session is mutated but not saved here.
func (e *Engine) processTurn(ctx context.Context, session *models.Session, history []models.Message, body string) (string, error) {
	switch session.State {
	case models.StateComplete:
		return catalogFor(session.Locale.Language).alreadyComplete, nil
	case models.StateError:
		return catalogFor(session.Locale.Language).provisionFailed, nil
	case models.StateAwaitingConfirmation:
		return e.handleConfirmation(ctx, session, history, body)
	case models.StateCollecting:
		return e.handleCollecting(ctx, session, history, body), nil
	default:
		slog.Error("flow.Engine.processTurn: unknown session state", "state", session.State, "phone", session.PhoneNumber)
		return "", fmt.Errorf("%w: %s", models.ErrInvalidState, session.State)
	}
}

// handleCollecting merges extracted fields and either advances to
// confirmation or asks for the next missing field.
func (e *Engine) handleCollecting(ctx context.Context, session *models.Session, history []models.Message, body string) string {
	extracted := e.extractor.Extract(ctx, history, body, session.Fields)

	progressed := false
	for name, value := range extracted {
		before, had := session.Field(name)
		session.SetField(name, value)
		if after, ok := session.Field(name); ok && (!had || after != before) {
			progressed = true
		}
	}

	if IsComplete(session) {
		session.State = models.StateAwaitingConfirmation
		session.LastPromptedField = ""
		session.StallCount = 0
		slog.Info("flow.Engine.handleCollecting: all mandatory fields collected", "phone", session.PhoneNumber)
		return BuildSummary(session)
	}

	next := NextField(session)
	if session.TurnCount == 0 && !progressed {
		session.LastPromptedField = next
		return catalogFor(session.Locale.Language).welcome
	}
	if !progressed && session.LastPromptedField == next {
		// Same field still open and the turn added nothing: rephrase instead
		// of repeating the identical question, and point at a human once the
		// conversation is clearly stuck.
		session.StallCount++
		if session.StallCount >= StallThreshold {
			slog.Warn("flow.Engine.handleCollecting: conversation stalled", "phone", session.PhoneNumber, "field", next, "stall_count", session.StallCount)
			return catalogFor(session.Locale.Language).stalled
		}
		slog.Debug("flow.Engine.handleCollecting: no progress, nudging", "phone", session.PhoneNumber, "field", next)
		return NudgeFor(session.Locale.Language, next)
	}
	session.StallCount = 0
	session.LastPromptedField = next
	return AskFor(session.Locale.Language, next)
}

// handleConfirmation parses the user's yes/no and, on affirmation, performs
// the exactly-once provisioning handoff.
func (e *Engine) handleConfirmation(ctx context.Context, session *models.Session, history []models.Message, body string) (string, error) {
	affirmed, denied := ParseConfirmation(session.Locale.Language, body)
	c := catalogFor(session.Locale.Language)

	switch {
	case denied:
		session.State = models.StateCollecting
		slog.Info("flow.Engine.handleConfirmation: user denied summary", "phone", session.PhoneNumber)
		return c.denied, nil
	case !affirmed:
		// The message may be a correction rather than a yes/no. Extract it;
		// any change re-renders the summary with the updated values.
		extracted := e.extractor.Extract(ctx, history, body, session.Fields)
		changed := false
		for name, value := range extracted {
			before, _ := session.Field(name)
			session.SetField(name, value)
			if after, _ := session.Field(name); after != before {
				changed = true
			}
		}
		if changed {
			slog.Info("flow.Engine.handleConfirmation: correction applied", "phone", session.PhoneNumber)
			return BuildSummary(session), nil
		}
		return c.confirmUnclear, nil
	}

	return e.provisionSession(ctx, session)
}

// provisionSession marks the session COMPLETE before calling the backend so
// a concurrent affirmation cannot provision twice, then reverts on transient
// failure.
func (e *Engine) provisionSession(ctx context.Context, session *models.Session) (string, error) {
	c := catalogFor(session.Locale.Language)

	session.State = models.StateComplete
	if err := e.store.SaveSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrSessionConflict) {
			slog.Warn("flow.Engine.provisionSession: lost provisioning race", "phone", session.PhoneNumber)
			current, loadErr := e.store.GetSession(ctx, session.PhoneNumber)
			if loadErr == nil && current != nil && current.LastReply != "" {
				*session = *current
				return session.LastReply, nil
			}
			return c.storageRetry, nil
		}
		// The claim never landed, so no provisioning happened; the user's
		// next yes tries again.
		slog.Error("flow.Engine.provisionSession: failed to claim completion", "error", err, "phone", session.PhoneNumber)
		session.State = models.StateAwaitingConfirmation
		return c.storageRetry, nil
	}

	result, err := e.provisioner.ProvisionAccount(ctx, provision.AccountRequest{
		RequestID:   uuid.NewString(),
		PhoneNumber: session.PhoneNumber,
		Country:     session.Locale.Country,
		Language:    session.Locale.Language,
		Fields:      session.Fields,
	})
	if err != nil {
		if errors.Is(err, provision.ErrDuplicateAccount) {
			// An account already exists for this number; the session stays
			// COMPLETE so the user is told to sign in rather than retry.
			slog.Warn("flow.Engine.provisionSession: account already exists", "phone", session.PhoneNumber)
			return c.alreadyComplete, nil
		}
		if provision.IsUnrecoverable(err) {
			slog.Error("flow.Engine.provisionSession: registration rejected", "error", err, "phone", session.PhoneNumber)
			session.State = models.StateError
			return c.provisionFailed, nil
		}
		// Transient backend failure: hand the turn back to confirmation so
		// the user's next "yes" retries the handoff.
		slog.Warn("flow.Engine.provisionSession: transient provisioning failure, reverting", "error", err, "phone", session.PhoneNumber)
		session.State = models.StateAwaitingConfirmation
		return c.provisionRetry, nil
	}

	session.AccountID = result.AccountID
	slog.Info("flow.Engine.provisionSession: account provisioned", "phone", session.PhoneNumber, "account_id", result.AccountID)
	return c.completed, nil
}

// logMessage appends a conversation-log entry. Log failures are reported but
// never fail the turn.
func (e *Engine) logMessage(ctx context.Context, session *models.Session, body string, direction models.MessageDirection, providerMessageID string) {
	msg := &models.Message{
		ID:                uuid.NewString(),
		PhoneNumber:       session.PhoneNumber,
		Body:              body,
		Direction:         direction,
		Locale:            session.Locale,
		ProviderMessageID: providerMessageID,
	}
	if err := e.store.AddMessage(ctx, msg); err != nil {
		slog.Warn("flow.Engine.logMessage: failed to log message", "error", err, "phone", session.PhoneNumber, "direction", direction)
	}
}
