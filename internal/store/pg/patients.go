package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carelink.org/internal/patient"
	"carelink.org/internal/sequence"
)

// PatientStore is the Postgres-backed patient store. It shares the base
// store's connection pool.
type PatientStore struct {
	db  *sql.DB
	mrn *sequence.Generator
	now func() time.Time
}

// Patients returns the patient store facade.
func (s *Store) Patients() (*PatientStore, error) {
	gen, err := sequence.NewGenerator("patients", "medical_record_number")
	if err != nil {
		return nil, err
	}
	return &PatientStore{db: s.db, mrn: gen, now: time.Now}, nil
}

var _ patient.Store = (*PatientStore)(nil)

const (
	mrnPrefix = "MRN"
	mrnWidth  = 5
)

const patientColumns = `
	id, medical_record_number, coalesce(user_id, ''), first_name, last_name,
	coalesce(date_of_birth, ''), coalesce(email, ''), coalesce(phone, ''), status,
	coalesce(primary_care_provider_id, ''), coalesce(ssn_last_four, ''),
	allergies, chronic_conditions, current_medications,
	coalesce(registered_by, ''), created_at, updated_at`

// Create allocates the medical record number and inserts the record in a
// single transaction so the sequence scan's row lock covers the insert.
func (s *PatientStore) Create(ctx context.Context, p *patient.Patient) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	prefix := fmt.Sprintf("%s-%d-", mrnPrefix, s.now().UTC().Year())
	mrn, err := s.mrn.Next(ctx, tx, prefix, mrnWidth)
	if err != nil {
		return err
	}
	p.MedicalRecordNumber = mrn

	allergies, err := jsonList(p.Allergies)
	if err != nil {
		return err
	}
	conditions, err := jsonList(p.ChronicConditions)
	if err != nil {
		return err
	}
	medications, err := jsonList(p.CurrentMedications)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into patients
			(id, medical_record_number, user_id, first_name, last_name, date_of_birth,
			 email, phone, status, primary_care_provider_id, ssn_last_four,
			 allergies, chronic_conditions, current_medications, registered_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, p.ID, p.MedicalRecordNumber, nullIfEmpty(p.UserID), p.FirstName, p.LastName,
		nullIfEmpty(p.DateOfBirth), nullIfEmpty(p.Email), nullIfEmpty(p.Phone), p.Status,
		nullIfEmpty(p.PrimaryCareProviderID), nullIfEmpty(p.SSNLastFour),
		allergies, conditions, medications,
		nullIfEmpty(p.RegisteredBy)); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return patient.ErrConflict
			case pgErrForeignKeyViolation:
				return patient.ErrNotFound
			}
		}
		return err
	}
	return tx.Commit()
}

func (s *PatientStore) Find(ctx context.Context, id string) (*patient.Patient, error) {
	return s.findWhere(ctx, `id = $1`, id)
}

func (s *PatientStore) FindByUserID(ctx context.Context, userID string) (*patient.Patient, error) {
	return s.findWhere(ctx, `user_id = $1`, userID)
}

func (s *PatientStore) FindByEmail(ctx context.Context, email string) (*patient.Patient, error) {
	return s.findWhere(ctx, `email = $1`, email)
}

func (s *PatientStore) FindByMRN(ctx context.Context, mrn string) (*patient.Patient, error) {
	return s.findWhere(ctx, `medical_record_number = $1`, mrn)
}

func (s *PatientStore) AssignProvider(ctx context.Context, patientID, providerID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update patients set primary_care_provider_id = $2, updated_at = now()
		where id = $1
	`, patientID, providerID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: provider not found", patient.ErrInvalidInput)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return patient.ErrNotFound
	}
	return nil
}

func (s *PatientStore) CountByStatus(ctx context.Context) (patient.Counts, error) {
	if s.db == nil {
		return patient.Counts{}, errors.New("database connection unavailable")
	}
	var counts patient.Counts
	err := s.db.QueryRowContext(ctx, `
		select count(*),
		       count(*) filter (where status = 'active'),
		       count(*) filter (where status = 'inactive')
		from patients
	`).Scan(&counts.Total, &counts.Active, &counts.Inactive)
	if err != nil {
		return patient.Counts{}, err
	}
	return counts, nil
}

func (s *PatientStore) findWhere(ctx context.Context, where string, arg any) (*patient.Patient, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		p                                    patient.Patient
		rawAllergies, rawConditions, rawMeds []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select `+patientColumns+`
		from patients
		where `+where, arg).Scan(
		&p.ID, &p.MedicalRecordNumber, &p.UserID, &p.FirstName, &p.LastName,
		&p.DateOfBirth, &p.Email, &p.Phone, &p.Status,
		&p.PrimaryCareProviderID, &p.SSNLastFour,
		&rawAllergies, &rawConditions, &rawMeds,
		&p.RegisteredBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, patient.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Allergies, err = decodeList(rawAllergies); err != nil {
		return nil, err
	}
	if p.ChronicConditions, err = decodeList(rawConditions); err != nil {
		return nil, err
	}
	if p.CurrentMedications, err = decodeList(rawMeds); err != nil {
		return nil, err
	}
	return &p, nil
}

func jsonList(items []string) ([]byte, error) {
	if len(items) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

func decodeList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}
