// Package locale infers a (country, language) pair from the international
// calling-code prefix of a phone number.
//
// Detection is a pure lookup over a static table and never fails: numbers
// whose prefix matches no entry resolve to the sentinel country "ZZ" with the
// English fallback language.
package locale

import (
	"sort"
	"strings"

	"github.com/FarmLedger/EnrollPipe/internal/models"
)

// entry maps one calling-code prefix to its locale. Digits only, no leading
// plus sign.
type entry struct {
	prefix   string
	country  string
	language string
}

// callingCodes is the static prefix table. Shared calling codes (+1, +7) map
// to the dominant country. Longer prefixes win over shorter ones, so the
// NANP sub-prefixes and +44 dependencies can be added without reordering.
var callingCodes = []entry{
	{"1", "US", "en"},
	{"7", "RU", "ru"},
	{"20", "EG", "ar"},
	{"27", "ZA", "en"},
	{"30", "GR", "el"},
	{"31", "NL", "nl"},
	{"32", "BE", "nl"},
	{"33", "FR", "fr"},
	{"34", "ES", "es"},
	{"36", "HU", "hu"},
	{"39", "IT", "it"},
	{"40", "RO", "ro"},
	{"41", "CH", "de"},
	{"43", "AT", "de"},
	{"44", "GB", "en"},
	{"45", "DK", "da"},
	{"46", "SE", "sv"},
	{"47", "NO", "no"},
	{"48", "PL", "pl"},
	{"49", "DE", "de"},
	{"51", "PE", "es"},
	{"52", "MX", "es"},
	{"53", "CU", "es"},
	{"54", "AR", "es"},
	{"55", "BR", "pt"},
	{"56", "CL", "es"},
	{"57", "CO", "es"},
	{"58", "VE", "es"},
	{"60", "MY", "ms"},
	{"61", "AU", "en"},
	{"62", "ID", "id"},
	{"63", "PH", "en"},
	{"64", "NZ", "en"},
	{"65", "SG", "en"},
	{"66", "TH", "th"},
	{"81", "JP", "ja"},
	{"82", "KR", "ko"},
	{"84", "VN", "vi"},
	{"86", "CN", "zh"},
	{"90", "TR", "tr"},
	{"91", "IN", "en"},
	{"92", "PK", "ur"},
	{"94", "LK", "si"},
	{"98", "IR", "fa"},
	{"212", "MA", "ar"},
	{"213", "DZ", "ar"},
	{"216", "TN", "ar"},
	{"234", "NG", "en"},
	{"254", "KE", "en"},
	{"255", "TZ", "sw"},
	{"256", "UG", "en"},
	{"351", "PT", "pt"},
	{"352", "LU", "fr"},
	{"353", "IE", "en"},
	{"354", "IS", "is"},
	{"358", "FI", "fi"},
	{"359", "BG", "bg"},
	{"370", "LT", "lt"},
	{"371", "LV", "lv"},
	{"372", "EE", "et"},
	{"380", "UA", "uk"},
	{"381", "RS", "sr"},
	{"385", "HR", "hr"},
	{"386", "SI", "sl"},
	{"387", "BA", "bs"},
	{"389", "MK", "mk"},
	{"420", "CZ", "cs"},
	{"421", "SK", "sk"},
	{"502", "GT", "es"},
	{"503", "SV", "es"},
	{"504", "HN", "es"},
	{"505", "NI", "es"},
	{"506", "CR", "es"},
	{"507", "PA", "es"},
	{"593", "EC", "es"},
	{"595", "PY", "es"},
	{"598", "UY", "es"},
	{"852", "HK", "zh"},
	{"880", "BD", "bn"},
	{"886", "TW", "zh"},
	{"961", "LB", "ar"},
	{"962", "JO", "ar"},
	{"963", "SY", "ar"},
	{"964", "IQ", "ar"},
	{"966", "SA", "ar"},
	{"971", "AE", "ar"},
	{"972", "IL", "he"},
	{"977", "NP", "ne"},
	{"994", "AZ", "az"},
	{"995", "GE", "ka"},
	{"998", "UZ", "uz"},
}

func init() {
	// Longest prefix first so the first match during Detect is the most
	// specific one.
	sort.SliceStable(callingCodes, func(i, j int) bool {
		return len(callingCodes[i].prefix) > len(callingCodes[j].prefix)
	})
}

// Normalize strips formatting from a phone number, leaving digits only. A
// leading "+" or international "00" prefix is removed.
func Normalize(phoneNumber string) string {
	var b strings.Builder
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if !strings.HasPrefix(phoneNumber, "+") && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	}
	return digits
}

// Detect resolves the locale for a phone number by longest-prefix match over
// the calling-code table. Unknown prefixes yield the "ZZ"/"en" fallback; the
// lookup itself never fails.
func Detect(phoneNumber string) models.Locale {
	digits := Normalize(phoneNumber)
	if digits == "" {
		return models.DefaultLocale()
	}
	for _, e := range callingCodes {
		if strings.HasPrefix(digits, e.prefix) {
			return models.Locale{Country: e.country, Language: e.language}
		}
	}
	return models.DefaultLocale()
}
