package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

// echoHandler replies with a fixed prefix plus the message body.
type echoHandler struct {
	mu   sync.Mutex
	err  error
	seen []models.Response
}

func (h *echoHandler) HandleMessage(_ context.Context, resp models.Response) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, resp)
	if h.err != nil {
		return "", h.err
	}
	return "echo: " + resp.Body, nil
}

func (h *echoHandler) handled() []models.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Response, len(h.seen))
	copy(out, h.seen)
	return out
}

func (h *echoHandler) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func waitForSent(t *testing.T, svc *MockService, want int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if sent := svc.Sent(); len(sent) >= want {
			return sent
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d sent messages, have %d", want, len(svc.Sent()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDispatcherRepliesToInbound(t *testing.T) {
	svc := NewMockService()
	handler := &echoHandler{}
	d := NewDispatcher(svc, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	svc.Receive(models.Response{From: "whatsapp:+385 91 123 4567", Body: "hello", ProviderMessageID: "m1"})
	sent := waitForSent(t, svc, 1)

	seen := handler.handled()
	if len(seen) != 1 {
		t.Fatalf("expected one handled message, got %d", len(seen))
	}
	// The sender is canonicalized before the handler sees it.
	if seen[0].From != "+385911234567" {
		t.Errorf("expected canonicalized sender, got %q", seen[0].From)
	}
	if !strings.HasPrefix(sent[0], "+385911234567|echo: hello") {
		t.Errorf("unexpected outbound message %q", sent[0])
	}
}

func TestDispatcherDropsInvalidSender(t *testing.T) {
	svc := NewMockService()
	handler := &echoHandler{}
	d := NewDispatcher(svc, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	svc.Receive(models.Response{From: "not-a-number", Body: "hello"})
	svc.Receive(models.Response{From: "+385911234567", Body: "valid"})
	waitForSent(t, svc, 1)

	seen := handler.handled()
	if len(seen) != 1 {
		t.Fatalf("invalid sender must be dropped before the handler, got %d messages", len(seen))
	}
	if seen[0].Body != "valid" {
		t.Errorf("wrong message reached the handler: %+v", seen[0])
	}
}

func TestDispatcherSurvivesHandlerErrors(t *testing.T) {
	svc := NewMockService()
	handler := &echoHandler{}
	handler.setErr(errors.New("boom"))
	d := NewDispatcher(svc, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	svc.Receive(models.Response{From: "+385911234567", Body: "first"})

	// Wait until the failing message was handled before clearing the error.
	deadline := time.After(2 * time.Second)
	for len(handler.handled()) < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for first message")
		case <-time.After(10 * time.Millisecond):
		}
	}
	handler.setErr(nil)
	svc.Receive(models.Response{From: "+385911234567", Body: "second"})
	waitForSent(t, svc, 1)

	if len(handler.handled()) != 2 {
		t.Errorf("loop must continue after a handler error, handled %d", len(handler.handled()))
	}
}

func TestDispatcherStopsOnChannelClose(t *testing.T) {
	svc := NewMockService()
	d := NewDispatcher(svc, &echoHandler{})

	d.Start(context.Background())
	svc.Stop()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after channel close")
	}
}

func TestCanonicalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+385911234567", "+385911234567", false},
		{"whatsapp:+385911234567", "+385911234567", false},
		{"+1 (415) 555-2671", "+14155552671", false},
		{"not-a-number", "", true},
		{"", "", true},
		{"123", "", true},
	}
	for _, c := range cases {
		got, err := canonicalizePhoneNumber(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("canonicalizePhoneNumber(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("canonicalizePhoneNumber(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("canonicalizePhoneNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTwilioServiceStopped(t *testing.T) {
	svc := NewTwilioService(newRecordingSender())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+385911234567", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stopping twice is safe.
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

// recordingSender is a minimal TwilioWhatsAppSender for service tests.
type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func newRecordingSender() *recordingSender { return &recordingSender{} }

func (r *recordingSender) SendMessage(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to+"|"+body)
	return nil
}

func TestTwilioServiceEmitResponse(t *testing.T) {
	svc := NewTwilioService(newRecordingSender())
	defer svc.Stop()

	svc.EmitResponse(models.Response{From: "+385911234567", Body: "hi", ProviderMessageID: "SM1"})
	select {
	case resp := <-svc.Responses():
		if resp.ProviderMessageID != "SM1" {
			t.Errorf("provider message id lost: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("expected emitted response")
	}
}

func TestTwilioServiceSendCanonicalizes(t *testing.T) {
	sender := newRecordingSender()
	svc := NewTwilioService(sender)
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "whatsapp:+385 91 123 4567", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 || !strings.HasPrefix(sender.sent[0], "+385911234567|") {
		t.Errorf("unexpected sent messages: %v", sender.sent)
	}
}
