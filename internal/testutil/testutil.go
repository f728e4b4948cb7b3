// Package testutil provides common test utilities and helpers for EnrollPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FarmLedger/EnrollPipe/internal/api"
	"github.com/FarmLedger/EnrollPipe/internal/flow"
	"github.com/FarmLedger/EnrollPipe/internal/genai"
	"github.com/FarmLedger/EnrollPipe/internal/messaging"
	"github.com/FarmLedger/EnrollPipe/internal/provision"
	"github.com/FarmLedger/EnrollPipe/internal/store"
)

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across test files.
func NewTestServer() *api.Server {
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st, flow.NewExtractor(&genai.MockClient{}), &provision.MockProvisioner{})
	return api.NewServer(messaging.NewMockService(), st, engine)
}

// NewTestServerWithStore is NewTestServer with the store exposed for seeding.
func NewTestServerWithStore() (*api.Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st, flow.NewExtractor(&genai.MockClient{}), &provision.MockProvisioner{})
	return api.NewServer(messaging.NewMockService(), st, engine), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
