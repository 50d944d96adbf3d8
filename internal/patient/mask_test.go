package patient

import "testing"

func TestMask(t *testing.T) {
	record := &Patient{
		ID:                 "p1",
		FirstName:          "Ada",
		LastName:           "Park",
		SSNLastFour:        "4821",
		Allergies:          []string{"penicillin"},
		ChronicConditions:  []string{"asthma"},
		CurrentMedications: []string{"albuterol"},
	}

	for _, role := range []string{"admin", "Doctor"} {
		v := Mask(role, record)
		if v.Restricted || v.SSNLastFour != "4821" || len(v.Allergies) != 1 {
			t.Fatalf("%s must see the full record: %+v", role, v)
		}
	}

	nurse := Mask("nurse", record)
	if nurse.Restricted {
		t.Fatalf("nurse view must not be restricted: %+v", nurse)
	}
	// The mask hides the leading groups but keeps the stored last four.
	if nurse.SSNLastFour != "***-**-4821" {
		t.Fatalf("nurse must see masked prefix plus last four, got %q", nurse.SSNLastFour)
	}
	if len(nurse.ChronicConditions) != 1 || len(nurse.CurrentMedications) != 1 {
		t.Fatalf("nurse keeps the clinical lists: %+v", nurse)
	}

	other := Mask("receptionist", record)
	if !other.Restricted {
		t.Fatal("other roles get a restricted view")
	}
	if other.SSNLastFour != "" || other.Allergies != nil || other.ChronicConditions != nil || other.CurrentMedications != nil {
		t.Fatalf("restricted view must withhold sensitive fields: %+v", other)
	}

	// Masking never writes through to the source record.
	if record.SSNLastFour != "4821" {
		t.Fatalf("source record mutated: %+v", record)
	}

	// No SSN on file stays empty rather than becoming a bare mask prefix.
	bare := Mask("nurse", &Patient{ID: "p2"})
	if bare.SSNLastFour != "" {
		t.Fatalf("unexpected placeholder: %q", bare.SSNLastFour)
	}
}
