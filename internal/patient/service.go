package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carelink.org/internal/ids"
)

// Service handles the authorization-relevant slice of patient management:
// registration (which allocates the MRN), provider assignment, population
// stats and the resource access predicate consumed by the ownership gate.
type Service struct {
	store Store
}

// NewService constructs the patient service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("patient store is required")
	}
	return &Service{store: store}, nil
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	UserID             string
	FirstName          string
	LastName           string
	DateOfBirth        string
	Email              string
	Phone              string
	SSNLastFour        string
	Allergies          []string
	ChronicConditions  []string
	CurrentMedications []string
}

// Register creates a patient record. The store allocates a unique medical
// record number inside the creation transaction.
func (s *Service) Register(ctx context.Context, input RegisterInput, registeredBy string) (*Patient, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	if input.FirstName == "" || input.LastName == "" {
		return nil, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	input.UserID = strings.TrimSpace(input.UserID)
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))

	if input.UserID != "" {
		_, err := s.store.FindByUserID(ctx, input.UserID)
		if err == nil {
			return nil, fmt.Errorf("%w: a patient record already exists for this user", ErrConflict)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if input.Email != "" {
		_, err := s.store.FindByEmail(ctx, input.Email)
		if err == nil {
			return nil, fmt.Errorf("%w: a patient with this email already exists", ErrConflict)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	p := &Patient{
		ID:                 ids.New(),
		UserID:             input.UserID,
		FirstName:          input.FirstName,
		LastName:           input.LastName,
		DateOfBirth:        strings.TrimSpace(input.DateOfBirth),
		Email:              input.Email,
		Phone:              strings.TrimSpace(input.Phone),
		Status:             StatusActive,
		SSNLastFour:        strings.TrimSpace(input.SSNLastFour),
		Allergies:          input.Allergies,
		ChronicConditions:  input.ChronicConditions,
		CurrentMedications: input.CurrentMedications,
		RegisteredBy:       strings.TrimSpace(registeredBy),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return s.store.Find(ctx, p.ID)
}

// Get loads a patient by id.
func (s *Service) Get(ctx context.Context, id string) (*Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidInput)
	}
	return s.store.Find(ctx, id)
}

// GetByMRN loads a patient by medical record number.
func (s *Service) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	mrn = strings.TrimSpace(mrn)
	if mrn == "" {
		return nil, fmt.Errorf("%w: medical record number is required", ErrInvalidInput)
	}
	return s.store.FindByMRN(ctx, mrn)
}

// AssignProvider sets the patient's primary care provider.
func (s *Service) AssignProvider(ctx context.Context, patientID, providerID string) (*Patient, error) {
	patientID = strings.TrimSpace(patientID)
	providerID = strings.TrimSpace(providerID)
	if patientID == "" || providerID == "" {
		return nil, fmt.Errorf("%w: patient id and provider id are required", ErrInvalidInput)
	}
	if _, err := s.store.Find(ctx, patientID); err != nil {
		return nil, err
	}
	if err := s.store.AssignProvider(ctx, patientID, providerID); err != nil {
		return nil, err
	}
	return s.store.Find(ctx, patientID)
}

// Stats returns patient population counts.
func (s *Service) Stats(ctx context.Context) (Counts, error) {
	return s.store.CountByStatus(ctx)
}

// CanUserAccessPatient is the ownership predicate for patient resources:
// admins always pass, the account linked to the record passes, the assigned
// primary care provider passes, and doctors and nurses pass (narrowing their
// access is the permission gate's job, not this predicate's). Everyone else
// is denied.
func (s *Service) CanUserAccessPatient(ctx context.Context, patientID, userID, role string) (bool, error) {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "admin" {
		return true, nil
	}
	p, err := s.store.Find(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.UserID != "" && p.UserID == userID {
		return true, nil
	}
	if p.PrimaryCareProviderID != "" && p.PrimaryCareProviderID == userID {
		return true, nil
	}
	if role == "doctor" || role == "nurse" {
		return true, nil
	}
	return false, nil
}
