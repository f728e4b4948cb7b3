package flow

import (
	"strings"
	"testing"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

func TestCatalogForFallsBackToEnglish(t *testing.T) {
	c := catalogFor("xx")
	if c.welcome != catalogs["en"].welcome {
		t.Error("unsupported language must fall back to the English catalog")
	}
	if catalogFor("hr").welcome == catalogs["en"].welcome {
		t.Error("supported language must use its own catalog")
	}
}

func TestCatalogsCoverMandatoryFields(t *testing.T) {
	for lang, c := range catalogs {
		for _, f := range registrationFields {
			if !f.Mandatory {
				continue
			}
			if _, ok := c.askField[f.Name]; !ok {
				t.Errorf("catalog %q missing ask prompt for %q", lang, f.Name)
			}
			if _, ok := c.nudgeField[f.Name]; !ok {
				t.Errorf("catalog %q missing nudge prompt for %q", lang, f.Name)
			}
		}
		for _, f := range registrationFields {
			if _, ok := c.fieldNames[f.Name]; !ok {
				t.Errorf("catalog %q missing display name for %q", lang, f.Name)
			}
		}
		if c.stalled == "" {
			t.Errorf("catalog %q missing stalled message", lang)
		}
		if c.storageRetry == "" {
			t.Errorf("catalog %q missing storage retry message", lang)
		}
	}
}

func TestBuildSummaryMasksPassword(t *testing.T) {
	s := models.NewSession("+385911234567", models.Locale{Country: "HR", Language: "hr"})
	s.SetField(FieldFirstName, "Ana")
	s.SetField(FieldPassword, "hunter2")
	summary := BuildSummary(s)
	if strings.Contains(summary, "hunter2") {
		t.Error("summary must never contain the raw password")
	}
	if !strings.Contains(summary, maskedPassword) {
		t.Error("summary must show the masked password")
	}
	if !strings.Contains(summary, "Ana") {
		t.Error("summary must show collected values")
	}
	if !strings.Contains(summary, catalogs["hr"].confirmPrompt) {
		t.Error("summary must end with the localized confirmation prompt")
	}
}

func TestBuildSummarySkipsUnsetFields(t *testing.T) {
	s := models.NewSession("+14155552671", models.Locale{Country: "US", Language: "en"})
	s.SetField(FieldFirstName, "Sam")
	summary := BuildSummary(s)
	if strings.Contains(summary, catalogs["en"].fieldNames[FieldEmail]+":") {
		t.Error("summary must not list unset fields")
	}
}

func TestParseConfirmation(t *testing.T) {
	cases := []struct {
		lang     string
		body     string
		affirmed bool
		denied   bool
	}{
		{"en", "yes", true, false},
		{"en", "Yes!", true, false},
		{"en", "  YES  ", true, false},
		{"en", "no", false, true},
		{"en", "nope", false, true},
		{"en", "maybe", false, false},
		{"en", "", false, false},
		{"hr", "da", true, false},
		{"hr", "ne", false, true},
		{"hr", "u redu", true, false},
		{"es", "sí", true, false},
		{"de", "nein", false, true},
		{"fr", "oui", true, false},
		{"pt", "não", false, true},
		// Unsupported language falls back to English words.
		{"ru", "yes", true, false},
		// English always works as a fallback for supported languages too.
		{"hr", "yes", true, false},
	}
	for _, c := range cases {
		affirmed, denied := ParseConfirmation(c.lang, c.body)
		if affirmed != c.affirmed || denied != c.denied {
			t.Errorf("ParseConfirmation(%q, %q) = (%v, %v), want (%v, %v)", c.lang, c.body, affirmed, denied, c.affirmed, c.denied)
		}
	}
}

func TestAskForUnknownFieldFallsBack(t *testing.T) {
	if AskFor("en", "favorite_color") == "" {
		t.Error("AskFor must always return a prompt")
	}
	if NudgeFor("en", "favorite_color") == "" {
		t.Error("NudgeFor must always return a prompt")
	}
}
