package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

func TestNewTestServerServesHealth(t *testing.T) {
	server := NewTestServer()

	req := CreateHTTPRequest(t, "GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	AssertHTTPStatus(t, http.StatusOK, rr.Code, "health endpoint")
	AssertJSONResponse(t, rr, models.StatusOK)
}

func TestNewTestServerWebhookRoundTrip(t *testing.T) {
	server, st := NewTestServerWithStore()

	req := CreateHTTPRequest(t, "POST", "/webhook", models.WebhookRequest{
		From: "+385911234567",
		Body: "Hello",
	})
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook endpoint")
	response := AssertJSONResponse(t, rr, models.StatusOK)

	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", response["result"])
	}
	if reply, _ := result["reply"].(string); reply == "" {
		t.Error("expected a non-empty reply")
	}

	session, err := st.GetSession(context.Background(), "+385911234567")
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if session == nil {
		t.Fatal("expected a session to be created by the webhook turn")
	}
	if session.State != models.StateCollecting {
		t.Errorf("expected state %s, got %s", models.StateCollecting, session.State)
	}
}

func TestCreateHTTPRequestWithoutBody(t *testing.T) {
	req := CreateHTTPRequest(t, "GET", "/sessions/+385911234567", nil)
	if req.Method != "GET" {
		t.Errorf("expected GET, got %s", req.Method)
	}
	if req.Header.Get("Content-Type") != "" {
		t.Error("expected no content type on bodyless request")
	}
}
