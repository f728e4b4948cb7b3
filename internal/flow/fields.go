// Package flow implements the registration dialogue: slot filling,
// completion evaluation, confirmation, and the handoff to account
// provisioning.
package flow

import "github.com/FarmLedger/EnrollPipe/internal/models"

// Field names collected during registration. The phone number is taken from
// the transport and is never asked for.
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldFarmName  = "farm_name"
	FieldPassword  = "password"
	FieldEmail     = "email"
	FieldLocation  = "location"
)

// FieldSpec describes one registration field.
type FieldSpec struct {
	Name      string
	Mandatory bool
}

// registrationFields lists every field in prompting order. Mandatory fields
// come first; optional ones are accepted when volunteered but never block
// completion.
var registrationFields = []FieldSpec{
	{Name: FieldFirstName, Mandatory: true},
	{Name: FieldLastName, Mandatory: true},
	{Name: FieldFarmName, Mandatory: true},
	{Name: FieldPassword, Mandatory: true},
	{Name: FieldEmail, Mandatory: false},
	{Name: FieldLocation, Mandatory: false},
}

// Fields returns all registration field specs in prompting order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(registrationFields))
	copy(out, registrationFields)
	return out
}

// IsKnownField reports whether a field name belongs to the registration set.
func IsKnownField(name string) bool {
	for _, f := range registrationFields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// MissingFields returns the mandatory fields a session has not yet filled,
// in prompting order.
func MissingFields(session *models.Session) []string {
	var missing []string
	for _, f := range registrationFields {
		if !f.Mandatory {
			continue
		}
		if _, ok := session.Field(f.Name); !ok {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// IsComplete reports whether every mandatory field is filled. Optional
// fields never affect the outcome.
func IsComplete(session *models.Session) bool {
	return len(MissingFields(session)) == 0
}

// NextField returns the first mandatory field still missing, or "" when the
// session is complete.
func NextField(session *models.Session) string {
	missing := MissingFields(session)
	if len(missing) == 0 {
		return ""
	}
	return missing[0]
}
