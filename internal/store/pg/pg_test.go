package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"carelink.org/internal/auth"
	"carelink.org/internal/authz"
	"carelink.org/internal/patient"
	"carelink.org/internal/session"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestFindByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select.*from users u.*join roles r").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.FindByEmail(context.Background(), "ghost@example.com")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByEmailScansRoleName(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "email", "password_hash", "first_name", "last_name",
		"role_id", "name", "refresh_token_hash",
		"is_active", "last_login_at", "created_at", "updated_at",
	}).AddRow("u1", "doc@example.com", "hash", "Dana", "Reed", "r1", "doctor", "", true, nil, now, now)

	mock.ExpectQuery("select.*from users u.*join roles r").
		WithArgs("doc@example.com").
		WillReturnRows(rows)

	user, err := store.FindByEmail(context.Background(), "doc@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if user.RoleName != "doctor" {
		t.Fatalf("unexpected role name: %s", user.RoleName)
	}
	if user.LastLoginAt != nil {
		t.Fatalf("expected nil last login, got %v", user.LastLoginAt)
	}
}

func TestCreateRoleConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into roles").
		WithArgs("r1", "doctor", sqlmock.AnyArg(), false).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.CreateRole(context.Background(), &authz.Role{ID: "r1", Name: "doctor"})
	if !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestReplaceRolePermissionsSwapsAtomically(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "p1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "p2").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update roles set updated_at").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.ReplaceRolePermissions(context.Background(), "r1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("ReplaceRolePermissions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReplaceRolePermissionsUnknownRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	err := store.ReplaceRolePermissions(context.Background(), "missing", []string{"p1"})
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkInactiveUnknownToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update user_sessions set is_active = false").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Sessions().MarkInactive(context.Background(), "tok-1")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveByUserOrdersByLastActivity(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "session_token", "device_info", "ip_address",
		"expires_at", "last_activity_at", "is_active", "created_at", "updated_at",
	}).
		AddRow("s2", "u1", "tok-2", "", "", now.Add(time.Hour), now, true, now, now).
		AddRow("s1", "u1", "tok-1", "", "", now.Add(time.Hour), now.Add(-time.Hour), true, now, now)

	mock.ExpectQuery("select.*from user_sessions.*order by last_activity_at desc").
		WithArgs("u1").
		WillReturnRows(rows)

	sessions, err := store.Sessions().ActiveByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ActiveByUser: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s2" || sessions[1].ID != "s1" {
		t.Fatalf("unexpected order: %+v", sessions)
	}
}

func TestPatientCreateAllocatesMRNInTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	patients, err := store.Patients()
	if err != nil {
		t.Fatalf("Patients: %v", err)
	}
	patients.now = func() time.Time {
		return time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	}

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").
		WithArgs("patients:medical_record_number:MRN-2026-").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select medical_record_number from patients").
		WithArgs("MRN-2026-%").
		WillReturnRows(sqlmock.NewRows([]string{"medical_record_number"}).AddRow("MRN-2026-00007"))
	mock.ExpectExec("insert into patients").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p := &patient.Patient{ID: "p1", FirstName: "Ada", LastName: "Nolan", Status: patient.StatusActive}
	if err := patients.Create(context.Background(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.MedicalRecordNumber != "MRN-2026-00008" {
		t.Fatalf("unexpected medical record number: %s", p.MedicalRecordNumber)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPatientCreateUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	patients, err := store.Patients()
	if err != nil {
		t.Fatalf("Patients: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select medical_record_number from patients").
		WillReturnRows(sqlmock.NewRows([]string{"medical_record_number"}))
	mock.ExpectExec("insert into patients").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	p := &patient.Patient{ID: "p1", FirstName: "Ada", LastName: "Nolan", Status: patient.StatusActive}
	if err := patients.Create(context.Background(), p); !errors.Is(err, patient.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
