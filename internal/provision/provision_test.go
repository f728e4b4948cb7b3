package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProvisionerSuccess(t *testing.T) {
	var received AccountRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(AccountResult{AccountID: "acct-42"})
	}))
	defer srv.Close()

	p, err := NewHTTPProvisioner(WithEndpoint(srv.URL), WithToken("secret"))
	if err != nil {
		t.Fatalf("NewHTTPProvisioner: %v", err)
	}

	result, err := p.ProvisionAccount(context.Background(), AccountRequest{
		PhoneNumber: "+385911234567",
		Country:     "HR",
		Language:    "hr",
		Fields:      map[string]string{"first_name": "Ana"},
	})
	if err != nil {
		t.Fatalf("ProvisionAccount: %v", err)
	}
	if result.AccountID != "acct-42" {
		t.Errorf("expected account id acct-42, got %q", result.AccountID)
	}
	if received.RequestID == "" {
		t.Error("expected a generated request id")
	}
	if received.PhoneNumber != "+385911234567" {
		t.Errorf("unexpected phone in request: %q", received.PhoneNumber)
	}
}

func TestHTTPProvisionerRetriesTransportError(t *testing.T) {
	var requests []AccountRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		requests = append(requests, req)
		if len(requests) == 1 {
			// Drop the connection so the client sees a transport error.
			panic(http.ErrAbortHandler)
		}
		json.NewEncoder(w).Encode(AccountResult{AccountID: "acct-7"})
	}))
	defer srv.Close()

	p, err := NewHTTPProvisioner(WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPProvisioner: %v", err)
	}

	result, err := p.ProvisionAccount(context.Background(), AccountRequest{PhoneNumber: "+14155552671"})
	if err != nil {
		t.Fatalf("ProvisionAccount after retry: %v", err)
	}
	if result.AccountID != "acct-7" {
		t.Errorf("expected account id acct-7, got %q", result.AccountID)
	}
	if len(requests) != 2 {
		t.Fatalf("expected one retry, got %d requests", len(requests))
	}
	if requests[0].RequestID != requests[1].RequestID {
		t.Error("retry must reuse the request id")
	}
}

func TestHTTPProvisionerDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvisioner(WithEndpoint(srv.URL))
	_, err := p.ProvisionAccount(context.Background(), AccountRequest{PhoneNumber: "+385911234567"})
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Errorf("expected ErrDuplicateAccount, got %v", err)
	}
	if !IsUnrecoverable(err) {
		t.Error("duplicate account must be unrecoverable")
	}
}

func TestHTTPProvisionerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad password", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvisioner(WithEndpoint(srv.URL))
	_, err := p.ProvisionAccount(context.Background(), AccountRequest{PhoneNumber: "+385911234567"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
	if !IsUnrecoverable(err) {
		t.Error("rejection must be unrecoverable")
	}
}

func TestHTTPProvisionerBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvisioner(WithEndpoint(srv.URL))
	_, err := p.ProvisionAccount(context.Background(), AccountRequest{PhoneNumber: "+385911234567"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if IsUnrecoverable(err) {
		t.Error("backend errors must stay recoverable")
	}
}

func TestNewHTTPProvisionerMissingEndpoint(t *testing.T) {
	if _, err := NewHTTPProvisioner(); err == nil {
		t.Error("expected error when endpoint is not set")
	}
}

func TestMockProvisionerRecordsRequests(t *testing.T) {
	m := &MockProvisioner{Result: &AccountResult{AccountID: "acct-1"}}
	result, err := m.ProvisionAccount(context.Background(), AccountRequest{PhoneNumber: "+14155552671"})
	if err != nil {
		t.Fatalf("ProvisionAccount: %v", err)
	}
	if result.AccountID != "acct-1" {
		t.Errorf("expected acct-1, got %q", result.AccountID)
	}
	if len(m.Requests) != 1 {
		t.Errorf("expected one recorded request, got %d", len(m.Requests))
	}
}
