package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/FarmLedger/EnrollPipe/internal/flow"
	"github.com/FarmLedger/EnrollPipe/internal/genai"
	"github.com/FarmLedger/EnrollPipe/internal/messaging"
	"github.com/FarmLedger/EnrollPipe/internal/models"
	"github.com/FarmLedger/EnrollPipe/internal/provision"
	"github.com/FarmLedger/EnrollPipe/internal/store"
)

// newTestServer creates a Server backed by in-memory doubles.
func newTestServer() (*Server, store.Store) {
	st := store.NewInMemoryStore()
	extractor := flow.NewExtractor(&genai.MockClient{})
	engine := flow.NewEngine(st, extractor, &provision.MockProvisioner{})
	return NewServer(messaging.NewMockService(), st, engine), st
}

func createJSONRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func createFormRequest(t *testing.T, path string, form url.Values) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func assertHTTPStatus(t *testing.T, want, got int, msg string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: expected status %d, got %d", msg, want, got)
	}
}

func decodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
	return resp
}

func assertJSONStatus(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	if resp := decodeAPIResponse(t, rr); resp.Status != want {
		t.Errorf("expected JSON status %q, got %q (body %s)", want, resp.Status, rr.Body.String())
	}
}

func TestWebhookHandler_Success(t *testing.T) {
	server, _ := newTestServer()

	req := createJSONRequest(t, "POST", "/webhook", `{"from":"+385911234567","body":"Hello"}`)
	rr := httptest.NewRecorder()
	server.webhookHandler(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "webhook success")
	resp := decodeAPIResponse(t, rr)
	if resp.Status != models.StatusOK {
		t.Fatalf("expected ok status, got %q", resp.Status)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	reply, _ := result["reply"].(string)
	if reply == "" {
		t.Error("expected a non-empty reply")
	}
}

func TestWebhookHandler_InvalidJSON(t *testing.T) {
	server, _ := newTestServer()

	req := createJSONRequest(t, "POST", "/webhook", `{"from":`)
	rr := httptest.NewRecorder()
	server.webhookHandler(rr, req)

	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "webhook invalid JSON")
	assertJSONStatus(t, rr, models.StatusError)
}

func TestWebhookHandler_MissingFrom(t *testing.T) {
	server, _ := newTestServer()

	req := createJSONRequest(t, "POST", "/webhook", `{"body":"Hello"}`)
	rr := httptest.NewRecorder()
	server.webhookHandler(rr, req)

	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "webhook missing sender")
	assertJSONStatus(t, rr, models.StatusError)
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer()

	req, _ := http.NewRequest("GET", "/webhook", nil)
	rr := httptest.NewRecorder()
	server.webhookHandler(rr, req)

	assertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "webhook wrong method")
}

func TestTwilioWebhookHandler_Success(t *testing.T) {
	server, _ := newTestServer()

	form := url.Values{}
	form.Set("From", "whatsapp:+385911234567")
	form.Set("Body", "Hello")
	form.Set("MessageSid", "SM123")
	req := createFormRequest(t, "/webhook/twilio", form)
	rr := httptest.NewRecorder()
	server.twilioWebhookHandler(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "Twilio webhook success")
	if ct := rr.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("expected text/xml content type, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "<Message>") {
		t.Errorf("expected TwiML Message verb, got %s", rr.Body.String())
	}
}

func TestTwilioWebhookHandler_MissingFields(t *testing.T) {
	server, _ := newTestServer()

	form := url.Values{}
	form.Set("From", "whatsapp:+385911234567")
	req := createFormRequest(t, "/webhook/twilio", form)
	rr := httptest.NewRecorder()
	server.twilioWebhookHandler(rr, req)

	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "Twilio webhook missing body")
}

func TestGetSessionHandler(t *testing.T) {
	server, _ := newTestServer()

	req := createJSONRequest(t, "POST", "/webhook", `{"from":"+385911234567","body":"Hello"}`)
	rr := httptest.NewRecorder()
	server.webhookHandler(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "seed webhook turn")

	req, _ = http.NewRequest("GET", "/sessions/+385911234567", nil)
	rr = httptest.NewRecorder()
	server.sessionsHandler(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "get session")
	resp := decodeAPIResponse(t, rr)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	if state, _ := result["state"].(string); state != string(models.StateCollecting) {
		t.Errorf("expected state %s, got %v", models.StateCollecting, result["state"])
	}
}

func TestGetSessionHandler_NotFound(t *testing.T) {
	server, _ := newTestServer()

	req, _ := http.NewRequest("GET", "/sessions/+15551234567", nil)
	rr := httptest.NewRecorder()
	server.sessionsHandler(rr, req)

	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "get absent session")
	assertJSONStatus(t, rr, models.StatusError)
}

func TestGetSessionHandler_MasksPassword(t *testing.T) {
	server, st := newTestServer()

	session := models.NewSession("+385911234567", models.Locale{Country: "HR", Language: "hr"})
	session.SetField("password", "hunter2")
	if err := st.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	req, _ := http.NewRequest("GET", "/sessions/+385911234567", nil)
	rr := httptest.NewRecorder()
	server.sessionsHandler(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "get session with password")
	if strings.Contains(rr.Body.String(), "hunter2") {
		t.Error("raw password leaked into the API response")
	}
	if !strings.Contains(rr.Body.String(), "•") {
		t.Error("expected masked password in the API response")
	}
}

func TestGetMessagesHandler(t *testing.T) {
	server, _ := newTestServer()

	req := createJSONRequest(t, "POST", "/webhook", `{"from":"+385911234567","body":"Hello"}`)
	rr := httptest.NewRecorder()
	server.webhookHandler(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "seed webhook turn")

	req, _ = http.NewRequest("GET", "/sessions/+385911234567/messages", nil)
	rr = httptest.NewRecorder()
	server.sessionsHandler(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "get messages")
	resp := decodeAPIResponse(t, rr)
	result, ok := resp.Result.([]interface{})
	if !ok {
		t.Fatalf("expected array result, got %T", resp.Result)
	}
	if len(result) != 2 {
		t.Errorf("expected inbound and outbound log entries, got %d", len(result))
	}
}

func TestSessionsHandler_InvalidPhone(t *testing.T) {
	server, _ := newTestServer()

	req, _ := http.NewRequest("GET", "/sessions/abc", nil)
	rr := httptest.NewRecorder()
	server.sessionsHandler(rr, req)

	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid phone number")
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer()

	req, _ := http.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.healthHandler(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "health check")
	assertJSONStatus(t, rr, models.StatusOK)
}
