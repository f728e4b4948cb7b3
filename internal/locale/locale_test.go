package locale

import (
	"testing"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

func TestDetectKnownPrefixes(t *testing.T) {
	cases := []struct {
		phone    string
		country  string
		language string
	}{
		{"+385911234567", "HR", "hr"},
		{"+14155552671", "US", "en"},
		{"+4915112345678", "DE", "de"},
		{"+5511998765432", "BR", "pt"},
		{"+34612345678", "ES", "es"},
		{"+33612345678", "FR", "fr"},
		{"+38640123456", "SI", "sl"},
		{"+381601234567", "RS", "sr"},
		{"+1 (415) 555-2671", "US", "en"},
		{"00385911234567", "HR", "hr"},
		{"385911234567", "HR", "hr"},
	}
	for _, c := range cases {
		got := Detect(c.phone)
		if got.Country != c.country || got.Language != c.language {
			t.Errorf("Detect(%q) = %+v, want country=%q language=%q", c.phone, got, c.country, c.language)
		}
	}
}

func TestDetectLongestPrefixWins(t *testing.T) {
	// +385 (Croatia) must win over +3 even though no +3 entry exists, and
	// +351 (Portugal) must not be shadowed by a shorter prefix.
	got := Detect("+351912345678")
	if got.Country != "PT" || got.Language != "pt" {
		t.Errorf("Detect(+351...) = %+v, want PT/pt", got)
	}
}

func TestDetectUnknownPrefix(t *testing.T) {
	got := Detect("+999123456789")
	want := models.DefaultLocale()
	if got != want {
		t.Errorf("Detect unknown prefix = %+v, want %+v", got, want)
	}
}

func TestDetectEmptyAndGarbage(t *testing.T) {
	for _, phone := range []string{"", "abc", "+", "   "} {
		got := Detect(phone)
		if got != models.DefaultLocale() {
			t.Errorf("Detect(%q) = %+v, want default locale", phone, got)
		}
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	first := Detect("+385911234567")
	for i := 0; i < 10; i++ {
		if got := Detect("+385911234567"); got != first {
			t.Fatalf("Detect not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+385 91 123 4567", "385911234567"},
		{"00385911234567", "385911234567"},
		{"+00911234", "00911234"},
		{"(415) 555-2671", "4155552671"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
