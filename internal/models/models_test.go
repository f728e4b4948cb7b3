package models

import (
	"strings"
	"testing"
)

func TestIsValidSessionState(t *testing.T) {
	valid := []SessionState{StateCollecting, StateAwaitingConfirmation, StateComplete, StateError}
	for _, s := range valid {
		if !IsValidSessionState(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if IsValidSessionState("PENDING") {
		t.Error("expected unknown state to be invalid")
	}
	if IsValidSessionState("") {
		t.Error("expected empty state to be invalid")
	}
}

func TestSessionStateIsTerminal(t *testing.T) {
	if StateCollecting.IsTerminal() || StateAwaitingConfirmation.IsTerminal() {
		t.Error("active states must not be terminal")
	}
	if !StateComplete.IsTerminal() || !StateError.IsTerminal() {
		t.Error("COMPLETE and ERROR must be terminal")
	}
}

func TestNewSession(t *testing.T) {
	loc := Locale{Country: "HR", Language: "hr"}
	s := NewSession("+385911234567", loc)
	if s.State != StateCollecting {
		t.Errorf("expected new session in COLLECTING, got %q", s.State)
	}
	if s.Locale != loc {
		t.Errorf("expected locale %+v, got %+v", loc, s.Locale)
	}
	if s.Fields == nil || len(s.Fields) != 0 {
		t.Error("expected empty non-nil fields map")
	}
	if s.TurnCount != 0 {
		t.Errorf("expected zero turn count, got %d", s.TurnCount)
	}
	if s.Version != 0 {
		t.Errorf("expected zero version before first save, got %d", s.Version)
	}
}

func TestSessionSetField(t *testing.T) {
	s := NewSession("+385911234567", DefaultLocale())

	s.SetField("first_name", "  Ana  ")
	if v, ok := s.Field("first_name"); !ok || v != "Ana" {
		t.Errorf("expected trimmed value 'Ana', got %q (ok=%v)", v, ok)
	}

	s.SetField("email", "   ")
	if _, ok := s.Field("email"); ok {
		t.Error("blank values must be dropped, not stored")
	}

	s.SetField("first_name", "Maria")
	if v, _ := s.Field("first_name"); v != "Maria" {
		t.Errorf("expected overwrite to 'Maria', got %q", v)
	}

	long := strings.Repeat("x", MaxFieldValueLength+100)
	s.SetField("location", long)
	if v, _ := s.Field("location"); len(v) != MaxFieldValueLength {
		t.Errorf("expected value truncated to %d chars, got %d", MaxFieldValueLength, len(v))
	}
}

func TestSessionSetFieldNilMap(t *testing.T) {
	s := &Session{PhoneNumber: "+385911234567"}
	s.SetField("farm_name", "Green Valley")
	if v, ok := s.Field("farm_name"); !ok || v != "Green Valley" {
		t.Errorf("expected value stored on nil map, got %q (ok=%v)", v, ok)
	}
}

func TestMessageValidate(t *testing.T) {
	msg := Message{
		PhoneNumber: "+385911234567",
		Body:        "hello",
		Direction:   DirectionInbound,
	}
	if err := msg.Validate(); err != nil {
		t.Errorf("expected valid message, got %v", err)
	}

	bad := msg
	bad.PhoneNumber = ""
	if err := bad.Validate(); err != ErrEmptyPhoneNumber {
		t.Errorf("expected ErrEmptyPhoneNumber, got %v", err)
	}

	bad = msg
	bad.Body = ""
	if err := bad.Validate(); err != ErrEmptyMessageBody {
		t.Errorf("expected ErrEmptyMessageBody, got %v", err)
	}

	bad = msg
	bad.Body = strings.Repeat("a", MaxMessageBodyLength+1)
	if err := bad.Validate(); err != ErrMessageBodyTooLong {
		t.Errorf("expected ErrMessageBodyTooLong, got %v", err)
	}

	bad = msg
	bad.Direction = "sideways"
	if err := bad.Validate(); err != ErrInvalidDirection {
		t.Errorf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestWebhookRequestValidate(t *testing.T) {
	req := WebhookRequest{From: "+385911234567", Body: "hi"}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	req = WebhookRequest{From: "  ", Body: "hi"}
	if err := req.Validate(); err != ErrEmptyPhoneNumber {
		t.Errorf("expected ErrEmptyPhoneNumber, got %v", err)
	}

	req = WebhookRequest{From: "+385911234567", Body: "\t\n"}
	if err := req.Validate(); err != ErrEmptyMessageBody {
		t.Errorf("expected ErrEmptyMessageBody, got %v", err)
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	resp := SuccessResponse(map[string]string{"k": "v"})
	if resp.Status != StatusOK {
		t.Errorf("expected status %q, got %q", StatusOK, resp.Status)
	}
	if resp.Error != "" {
		t.Errorf("expected no error, got %q", resp.Error)
	}

	resp = ErrorResponse("boom")
	if resp.Status != StatusError || resp.Error != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}
}
