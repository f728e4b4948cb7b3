// Package provision hands completed registrations off to the account
// backend.
//
// The engine guarantees each confirmed registration reaches the provisioner
// at most once; the provisioner in turn attaches a request ID so the backend
// can de-duplicate retries of the same handoff.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Constants for provisioner configuration
const (
	// DefaultHTTPTimeout bounds a single provisioning request.
	DefaultHTTPTimeout = 10 * time.Second
	// maxErrorBodyBytes caps how much of an error response body is read.
	maxErrorBodyBytes = 4096
)

// Error variables for provisioning outcomes.
var (
	// ErrDuplicateAccount means the backend already holds an account for this
	// phone number. Unrecoverable for the current registration.
	ErrDuplicateAccount = errors.New("account already exists for phone number")
	// ErrRejected means the backend rejected the registration data.
	// Unrecoverable without new input.
	ErrRejected = errors.New("registration rejected by account backend")
)

// AccountRequest is the payload sent to the account backend.
type AccountRequest struct {
	// RequestID lets the backend de-duplicate a retried handoff.
	RequestID   string            `json:"request_id"`
	PhoneNumber string            `json:"phone_number"`
	Country     string            `json:"country"`
	Language    string            `json:"language"`
	Fields      map[string]string `json:"fields"`
}

// AccountResult is the backend's answer to a successful provisioning call.
type AccountResult struct {
	AccountID string `json:"account_id"`
}

// Provisioner creates accounts from completed registrations.
type Provisioner interface {
	// ProvisionAccount creates an account. Transient failures return ordinary
	// errors; ErrDuplicateAccount and ErrRejected mark unrecoverable
	// rejections.
	ProvisionAccount(ctx context.Context, req AccountRequest) (*AccountResult, error)
}

// Opts holds configuration options for the HTTP provisioner.
type Opts struct {
	// Endpoint is the account backend URL.
	Endpoint string
	// Token is an optional bearer token for the backend.
	Token string
	// HTTPTimeout bounds a single request. Defaults to DefaultHTTPTimeout.
	HTTPTimeout time.Duration
}

// Option configures provisioner options.
type Option func(*Opts)

// WithEndpoint sets the account backend URL.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

// WithToken sets the bearer token for backend requests.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithHTTPTimeout sets the per-request timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *Opts) { o.HTTPTimeout = d }
}

// HTTPProvisioner calls the account backend over HTTP.
type HTTPProvisioner struct {
	endpoint string
	token    string
	client   *http.Client
}

var _ Provisioner = (*HTTPProvisioner)(nil)

// NewHTTPProvisioner creates an HTTP provisioner for the configured endpoint.
func NewHTTPProvisioner(opts ...Option) (*HTTPProvisioner, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		slog.Error("HTTPProvisioner endpoint not set")
		return nil, fmt.Errorf("provisioner endpoint not set")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	slog.Debug("NewHTTPProvisioner created", "endpoint", cfg.Endpoint, "timeout", timeout)
	return &HTTPProvisioner{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// ProvisionAccount posts the registration to the account backend. A missing
// request ID is filled in so the backend can de-duplicate retries.
func (p *HTTPProvisioner) ProvisionAccount(ctx context.Context, req AccountRequest) (*AccountResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account request: %w", err)
	}

	newRequest := func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build account request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.token)
		}
		return httpReq, nil
	}

	httpReq, err := newRequest()
	if err != nil {
		return nil, err
	}

	slog.Debug("HTTPProvisioner ProvisionAccount sending", "phone", req.PhoneNumber, "request_id", req.RequestID)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		// The request ID makes the call idempotent on the backend, so one
		// retry on a transport error is safe.
		slog.Warn("HTTPProvisioner ProvisionAccount transport error, retrying once", "error", err, "phone", req.PhoneNumber)
		httpReq, err = newRequest()
		if err != nil {
			return nil, err
		}
		resp, err = p.client.Do(httpReq)
		if err != nil {
			slog.Error("HTTPProvisioner ProvisionAccount request failed", "error", err, "phone", req.PhoneNumber)
			return nil, fmt.Errorf("account backend request failed: %w", err)
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result AccountResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			slog.Error("HTTPProvisioner ProvisionAccount decode failed", "error", err, "phone", req.PhoneNumber)
			return nil, fmt.Errorf("failed to decode account response: %w", err)
		}
		slog.Info("HTTPProvisioner ProvisionAccount succeeded", "phone", req.PhoneNumber, "account_id", result.AccountID)
		return &result, nil
	case resp.StatusCode == http.StatusConflict:
		slog.Warn("HTTPProvisioner ProvisionAccount duplicate account", "phone", req.PhoneNumber)
		return nil, ErrDuplicateAccount
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		slog.Error("HTTPProvisioner ProvisionAccount rejected", "phone", req.PhoneNumber, "status", resp.StatusCode, "detail", string(detail))
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	default:
		slog.Error("HTTPProvisioner ProvisionAccount backend error", "phone", req.PhoneNumber, "status", resp.StatusCode)
		return nil, fmt.Errorf("account backend returned status %d", resp.StatusCode)
	}
}

// IsUnrecoverable reports whether a provisioning error is a terminal
// rejection rather than a transient failure.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrDuplicateAccount) || errors.Is(err, ErrRejected)
}

// MockProvisioner is a test double for account provisioning.
type MockProvisioner struct {
	// Result returned on success. A nil Result yields a generated account ID.
	Result *AccountResult
	// Err, when set, is returned by every call.
	Err error
	// Requests records every request received.
	Requests []AccountRequest
}

var _ Provisioner = (*MockProvisioner)(nil)

// ProvisionAccount records the request and returns the canned outcome.
func (m *MockProvisioner) ProvisionAccount(_ context.Context, req AccountRequest) (*AccountResult, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &AccountResult{AccountID: uuid.NewString()}, nil
}
