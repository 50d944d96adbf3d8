package patient

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type stubStore struct {
	byID     map[string]*Patient
	byUserID map[string]*Patient
	byEmail  map[string]*Patient
	byMRN    map[string]*Patient

	findErr error
	mrnSeq  int
}

func newStubStore() *stubStore {
	return &stubStore{
		byID:     make(map[string]*Patient),
		byUserID: make(map[string]*Patient),
		byEmail:  make(map[string]*Patient),
		byMRN:    make(map[string]*Patient),
	}
}

func (s *stubStore) add(p *Patient) {
	s.byID[p.ID] = p
	if p.UserID != "" {
		s.byUserID[p.UserID] = p
	}
	if p.Email != "" {
		s.byEmail[p.Email] = p
	}
	if p.MedicalRecordNumber != "" {
		s.byMRN[p.MedicalRecordNumber] = p
	}
}

func (s *stubStore) Create(_ context.Context, p *Patient) error {
	s.mrnSeq++
	p.MedicalRecordNumber = fmt.Sprintf("MRN-2026-%05d", s.mrnSeq)
	copied := *p
	s.add(&copied)
	return nil
}

func (s *stubStore) find(m map[string]*Patient, key string) (*Patient, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	p, ok := m[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *stubStore) Find(_ context.Context, id string) (*Patient, error) {
	return s.find(s.byID, id)
}

func (s *stubStore) FindByUserID(_ context.Context, userID string) (*Patient, error) {
	return s.find(s.byUserID, userID)
}

func (s *stubStore) FindByEmail(_ context.Context, email string) (*Patient, error) {
	return s.find(s.byEmail, email)
}

func (s *stubStore) FindByMRN(_ context.Context, mrn string) (*Patient, error) {
	return s.find(s.byMRN, mrn)
}

func (s *stubStore) AssignProvider(_ context.Context, patientID, providerID string) error {
	p, ok := s.byID[patientID]
	if !ok {
		return ErrNotFound
	}
	p.PrimaryCareProviderID = providerID
	return nil
}

func (s *stubStore) CountByStatus(_ context.Context) (Counts, error) {
	counts := Counts{}
	for _, p := range s.byID {
		counts.Total++
		switch p.Status {
		case StatusActive:
			counts.Active++
		case StatusInactive:
			counts.Inactive++
		}
	}
	return counts, nil
}

func newTestService(t *testing.T) (*Service, *stubStore) {
	t.Helper()
	store := newStubStore()
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestRegisterAllocatesMRN(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "  Ada ",
		LastName:  "Park",
		Email:     "Ada.Park@example.org",
	}, "reg-1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.MedicalRecordNumber != "MRN-2026-00001" {
		t.Fatalf("unexpected mrn: %s", p.MedicalRecordNumber)
	}
	if p.FirstName != "Ada" || p.Email != "ada.park@example.org" {
		t.Fatalf("input not normalized: %+v", p)
	}
	if p.Status != StatusActive || p.RegisteredBy != "reg-1" {
		t.Fatalf("unexpected record: %+v", p)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterInput{FirstName: "Ada"}, "reg-1")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegisterConflicts(t *testing.T) {
	svc, store := newTestService(t)
	store.add(&Patient{ID: "p1", UserID: "u1", Email: "taken@example.org"})

	_, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "Ada", LastName: "Park", UserID: "u1",
	}, "reg-1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected user-link conflict, got %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterInput{
		FirstName: "Ada", LastName: "Park", Email: "Taken@example.org",
	}, "reg-1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestRegisterPropagatesStoreError(t *testing.T) {
	svc, store := newTestService(t)
	store.findErr = errors.New("connection reset")

	_, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "Ada", LastName: "Park", UserID: "u1",
	}, "reg-1")
	if err == nil || errors.Is(err, ErrConflict) {
		t.Fatalf("expected the lookup error, got %v", err)
	}
}

func TestAssignProvider(t *testing.T) {
	svc, store := newTestService(t)
	store.add(&Patient{ID: "p1", FirstName: "Ada", LastName: "Park"})

	p, err := svc.AssignProvider(context.Background(), "p1", "dr-7")
	if err != nil {
		t.Fatalf("AssignProvider: %v", err)
	}
	if p.PrimaryCareProviderID != "dr-7" {
		t.Fatalf("provider not assigned: %+v", p)
	}

	if _, err := svc.AssignProvider(context.Background(), "ghost", "dr-7"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.AssignProvider(context.Background(), "p1", " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCanUserAccessPatient(t *testing.T) {
	svc, store := newTestService(t)
	store.add(&Patient{ID: "p1", UserID: "u-owner", PrimaryCareProviderID: "u-provider"})

	cases := []struct {
		name      string
		patientID string
		userID    string
		role      string
		want      bool
	}{
		{"admin always passes", "p1", "anyone", "Admin", true},
		{"linked account", "p1", "u-owner", "patient", true},
		{"assigned provider", "p1", "u-provider", "doctor", true},
		{"doctor without assignment", "p1", "u-other", "doctor", true},
		{"nurse", "p1", "u-other", "nurse", true},
		{"unrelated patient", "p1", "u-other", "patient", false},
		{"receptionist", "p1", "u-other", "receptionist", false},
		{"unknown record non-admin", "ghost", "u-other", "doctor", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.CanUserAccessPatient(context.Background(), tc.patientID, tc.userID, tc.role)
			if err != nil {
				t.Fatalf("CanUserAccessPatient: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCanUserAccessPatientStoreError(t *testing.T) {
	svc, store := newTestService(t)
	store.findErr = errors.New("connection reset")

	ok, err := svc.CanUserAccessPatient(context.Background(), "p1", "u1", "doctor")
	if ok || err == nil {
		t.Fatalf("expected store error to propagate, ok=%v err=%v", ok, err)
	}
}
