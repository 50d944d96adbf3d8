package patient

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("patient: not found")
	ErrConflict     = errors.New("patient: conflict")
	ErrInvalidInput = errors.New("patient: invalid input")
)

// Status is a patient record's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Patient is the record subset this service manages: identity, the medical
// record number, the linked account, provider assignment and the sensitive
// fields subject to masking.
type Patient struct {
	ID                    string    `json:"id"`
	MedicalRecordNumber   string    `json:"medical_record_number"`
	UserID                string    `json:"user_id,omitempty"`
	FirstName             string    `json:"first_name"`
	LastName              string    `json:"last_name"`
	DateOfBirth           string    `json:"date_of_birth,omitempty"`
	Email                 string    `json:"email,omitempty"`
	Phone                 string    `json:"phone,omitempty"`
	Status                Status    `json:"status"`
	PrimaryCareProviderID string    `json:"primary_care_provider_id,omitempty"`
	SSNLastFour           string    `json:"ssn_last_four,omitempty"`
	Allergies             []string  `json:"allergies,omitempty"`
	ChronicConditions     []string  `json:"chronic_conditions,omitempty"`
	CurrentMedications    []string  `json:"current_medications,omitempty"`
	RegisteredBy          string    `json:"registered_by,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Counts summarizes the patient population by status.
type Counts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// Store describes patient persistence. Create allocates the medical record
// number inside its own transaction so concurrent registrations never share
// an identifier.
type Store interface {
	Create(ctx context.Context, p *Patient) error
	Find(ctx context.Context, id string) (*Patient, error)
	FindByUserID(ctx context.Context, userID string) (*Patient, error)
	FindByEmail(ctx context.Context, email string) (*Patient, error)
	FindByMRN(ctx context.Context, mrn string) (*Patient, error)
	AssignProvider(ctx context.Context, patientID, providerID string) error
	CountByStatus(ctx context.Context) (Counts, error)
}
