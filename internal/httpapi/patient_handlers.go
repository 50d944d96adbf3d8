package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"carelink.org/internal/auth"
	"carelink.org/internal/guard"
	"carelink.org/internal/patient"
)

type registerPatientRequest struct {
	UserID             string   `json:"user_id"`
	FirstName          string   `json:"first_name"`
	LastName           string   `json:"last_name"`
	DateOfBirth        string   `json:"date_of_birth"`
	Email              string   `json:"email"`
	Phone              string   `json:"phone"`
	SSNLastFour        string   `json:"ssn_last_four"`
	Allergies          []string `json:"allergies"`
	ChronicConditions  []string `json:"chronic_conditions"`
	CurrentMedications []string `json:"current_medications"`
}

type assignProviderRequest struct {
	ProviderID string `json:"provider_id"`
}

var patientOwnership = &guard.OwnershipDescriptor{
	Capability: "patients",
	Method:     "access",
	ParamName:  "id",
}

func (a *API) handlePatientsCollection(w http.ResponseWriter, r *http.Request) {
	if a.patients == nil {
		writeError(w, r, http.StatusServiceUnavailable, "patient service unavailable")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.authorize(w, r, guard.Requirement{Permissions: []string{"patients:create"}}, nil) {
		return
	}
	var req registerPatientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	p, err := a.patients.Register(r.Context(), patient.RegisterInput{
		UserID:             req.UserID,
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		DateOfBirth:        req.DateOfBirth,
		Email:              req.Email,
		Phone:              req.Phone,
		SSNLastFour:        req.SSNLastFour,
		Allergies:          req.Allergies,
		ChronicConditions:  req.ChronicConditions,
		CurrentMedications: req.CurrentMedications,
	}, principal.UserID)
	if err != nil {
		handlePatientError(w, r, err)
		return
	}
	a.audit(r.Context(), "patient.register", "patient", p.ID, map[string]string{
		"medical_record_number": p.MedicalRecordNumber,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/patients/%s", p.ID))
	writeJSON(w, http.StatusCreated, patient.Mask(principal.Role, p))
}

func (a *API) handlePatientResource(w http.ResponseWriter, r *http.Request) {
	if a.patients == nil {
		writeError(w, r, http.StatusServiceUnavailable, "patient service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/patients/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] == "stats":
		a.patientStats(w, r)
	case len(parts) == 2 && parts[0] == "mrn":
		a.getPatientByMRN(w, r, parts[1])
	case len(parts) == 1:
		a.getPatient(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "provider":
		a.assignProvider(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getPatient(w http.ResponseWriter, r *http.Request, patientID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	req := guard.Requirement{
		Permissions: []string{"patients:read"},
		Ownership:   patientOwnership,
	}
	if !a.authorize(w, r, req, map[string]string{"id": patientID}) {
		return
	}
	p, err := a.patients.Get(r.Context(), patientID)
	if err != nil {
		handlePatientError(w, r, err)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, patient.Mask(principal.Role, p))
}

func (a *API) getPatientByMRN(w http.ResponseWriter, r *http.Request, mrn string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	req := guard.Requirement{
		Roles:       []string{"admin", "doctor", "nurse"},
		Permissions: []string{"patients:read"},
	}
	if !a.authorize(w, r, req, nil) {
		return
	}
	p, err := a.patients.GetByMRN(r.Context(), mrn)
	if err != nil {
		handlePatientError(w, r, err)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, patient.Mask(principal.Role, p))
}

func (a *API) assignProvider(w http.ResponseWriter, r *http.Request, patientID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	req := guard.Requirement{
		Roles:       []string{"admin", "doctor"},
		Permissions: []string{"patients:update"},
		Ownership:   patientOwnership,
	}
	if !a.authorize(w, r, req, map[string]string{"id": patientID}) {
		return
	}
	var body assignProviderRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.patients.AssignProvider(r.Context(), patientID, body.ProviderID)
	if err != nil {
		handlePatientError(w, r, err)
		return
	}
	a.audit(r.Context(), "patient.provider.assign", "patient", patientID, map[string]string{
		"provider_id": body.ProviderID,
	})
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, patient.Mask(principal.Role, p))
}

func (a *API) patientStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	req := guard.Requirement{
		Roles:       []string{"admin", "doctor"},
		Permissions: []string{"patients:read"},
	}
	if !a.authorize(w, r, req, nil) {
		return
	}
	counts, err := a.patients.Stats(r.Context())
	if err != nil {
		handlePatientError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func handlePatientError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, patient.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, patient.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, patient.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "patient operation failed")
	}
}
