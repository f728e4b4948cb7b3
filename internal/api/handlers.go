package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go/twiml"

	"github.com/FarmLedger/EnrollPipe/internal/flow"
	"github.com/FarmLedger/EnrollPipe/internal/models"
)

// webhookHandler accepts a generic JSON inbound message (POST /webhook) and
// returns the engine's reply.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing inbound message", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.webhookHandler: validation failed", "error", err, "from", req.From)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}

	canonicalFrom, err := s.msgService.ValidateAndCanonicalizeRecipient(req.From)
	if err != nil {
		slog.Warn("Server.webhookHandler: sender validation failed", "error", err, "original_from", req.From)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}

	reply, err := s.engine.HandleMessage(r.Context(), models.Response{
		From:              canonicalFrom,
		Body:              req.Body,
		ProviderMessageID: req.MessageID,
		Time:              time.Now().Unix(),
	})
	if err != nil {
		slog.Error("Server.webhookHandler: engine failed", "error", err, "from", canonicalFrom)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse("Failed to process message"))
		return
	}

	slog.Info("Server.webhookHandler: message processed", "from", canonicalFrom)
	writeJSON(w, http.StatusOK, models.SuccessResponse(models.WebhookReply{Reply: reply}))
}

// twilioWebhookHandler accepts Twilio's form-encoded inbound webhook
// (POST /webhook/twilio) and replies with TwiML so Twilio delivers the
// engine's answer in the same round trip.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.twilioWebhookHandler: Twilio webhook received", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.twilioWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	messageSid := r.FormValue("MessageSid")
	if from == "" || body == "" {
		slog.Warn("Server.twilioWebhookHandler: missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonicalFrom, err := s.msgService.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: sender validation failed", "error", err, "original_from", from)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	reply, err := s.engine.HandleMessage(r.Context(), models.Response{
		From:              canonicalFrom,
		Body:              body,
		ProviderMessageID: messageSid,
		Time:              time.Now().Unix(),
	})
	if err != nil {
		slog.Error("Server.twilioWebhookHandler: engine failed", "error", err, "from", canonicalFrom)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}

	var verbs []twiml.Element
	if reply != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: reply})
	}
	doc, err := twiml.Messages(verbs)
	if err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to render TwiML", "error", err)
		http.Error(w, "Failed to render reply", http.StatusInternalServerError)
		return
	}

	slog.Info("Server.twilioWebhookHandler: message processed", "from", canonicalFrom)
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to write TwiML response", "error", err)
	}
}

// sessionsHandler routes GET /sessions/{phone} and GET /sessions/{phone}/messages.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sessionsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.sessionsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/sessions")
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")

	if len(segments) == 0 || segments[0] == "" {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse("Missing phone number"))
		return
	}

	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(segments[0])
	if err != nil {
		slog.Warn("Server.sessionsHandler: invalid phone number", "error", err, "original", segments[0])
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}

	switch {
	case len(segments) == 1:
		s.getSessionHandler(w, r, phone)
	case len(segments) == 2 && segments[1] == "messages":
		s.getMessagesHandler(w, r, phone)
	default:
		writeJSON(w, http.StatusNotFound, models.ErrorResponse("Unknown sessions endpoint"))
	}
}

// getSessionHandler handles GET /sessions/{phone}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request, phone string) {
	session, err := s.st.GetSession(r.Context(), phone)
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to fetch session", "error", err, "phone", phone)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse("Failed to fetch session"))
		return
	}
	if session == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse("Session not found"))
		return
	}
	session.Fields = flow.SanitizeFields(session.Fields)
	slog.Debug("Server.getSessionHandler: session fetched", "phone", phone, "state", session.State)
	writeJSON(w, http.StatusOK, models.SuccessResponse(session))
}

// getMessagesHandler handles GET /sessions/{phone}/messages
func (s *Server) getMessagesHandler(w http.ResponseWriter, r *http.Request, phone string) {
	messages, err := s.st.GetMessages(r.Context(), phone)
	if err != nil {
		slog.Error("Server.getMessagesHandler: failed to fetch messages", "error", err, "phone", phone)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse("Failed to fetch messages"))
		return
	}
	slog.Debug("Server.getMessagesHandler: messages fetched", "phone", phone, "count", len(messages))
	writeJSON(w, http.StatusOK, models.SuccessResponse(messages))
}

// healthHandler reports liveness (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, models.SuccessResponse(map[string]string{"status": "healthy"}))
}
