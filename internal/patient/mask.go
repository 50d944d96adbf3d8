package patient

import "strings"

// SSNMaskPrefix replaces the leading SSN groups in partially masked views; the
// stored last four digits stay visible.
const SSNMaskPrefix = "***-**-"

// View is a patient record shaped for a particular viewer role. Restricted
// marks views with sensitive clinical fields withheld.
type View struct {
	Patient
	Restricted bool `json:"restricted,omitempty"`
}

// Mask returns the record as the given role is allowed to see it. Admins and
// doctors see the full record. Nurses see the clinical lists and the SSN as
// the mask prefix plus the last four digits. Every other role gets a
// restricted view with the SSN and clinical lists withheld.
func Mask(role string, p *Patient) View {
	v := View{Patient: *p}
	switch strings.TrimSpace(strings.ToLower(role)) {
	case "admin", "doctor":
		return v
	case "nurse":
		if v.SSNLastFour != "" {
			v.SSNLastFour = SSNMaskPrefix + v.SSNLastFour
		}
		return v
	default:
		v.Restricted = true
		v.SSNLastFour = ""
		v.Allergies = nil
		v.ChronicConditions = nil
		v.CurrentMedications = nil
		return v
	}
}
