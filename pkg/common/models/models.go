package models

import (
	"time"

	"github.com/google/uuid"
)

// Estimation methods under comparison
type Method string

const (
	MethodAlQahtani Method = "alqahtani"
	MethodDemirjian Method = "demirjian"
)

// Label returns the display name used in blinded entries and reports.
func (m Method) Label() string {
	switch m {
	case MethodAlQahtani:
		return "AlQahtani"
	case MethodDemirjian:
		return "Demirjian"
	default:
		return string(m)
	}
}

func ParseMethod(raw string) (Method, bool) {
	switch Method(raw) {
	case MethodAlQahtani:
		return MethodAlQahtani, true
	case MethodDemirjian:
		return MethodDemirjian, true
	}
	switch raw {
	case "AlQahtani":
		return MethodAlQahtani, true
	case "Demirjian":
		return MethodDemirjian, true
	}
	return "", false
}

// Roles
type Role string

const (
	RoleSupervisor Role = "supervisor"
	RolePI         Role = "pi"
)

// Patient record as surfaced to the supervisor. The PI never receives this
// shape; blinded access goes through BlindedEntry.
type Patient struct {
	ID                    int64      `json:"id"`
	PatientID             string     `json:"patient_id"`
	Name                  string     `json:"name,omitempty"`
	ActualAge             float64    `json:"actual_age"`
	Sex                   string     `json:"sex"`
	OPGLink               string     `json:"opg_link,omitempty"`
	CodeA                 *string    `json:"code_a,omitempty"`
	CodeB                 *string    `json:"code_b,omitempty"`
	AlQahtaniEstimatedAge *float64   `json:"alqahtani_estimated_age,omitempty"`
	AlQahtaniErrorMargin  *float64   `json:"alqahtani_error_margin,omitempty"`
	DemirjianEstimatedAge *float64   `json:"demirjian_estimated_age,omitempty"`
	DemirjianErrorMargin  *float64   `json:"demirjian_error_margin,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type CreatePatientRequest struct {
	PatientID string  `json:"patient_id"`
	Name      string  `json:"name"`
	ActualAge float64 `json:"actual_age"`
	Sex       string  `json:"sex"`
}

type UpdatePatientRequest struct {
	PatientID string  `json:"patient_id"`
	Name      string  `json:"name"`
	ActualAge float64 `json:"actual_age"`
	Sex       string  `json:"sex"`
}

// DeletePatientResult reports the rows a delete touched so the operation is
// confirmable from the caller's side.
type DeletePatientResult struct {
	PatientID       string `json:"patient_id"`
	EntriesRemoved  int64  `json:"entries_removed"`
	StorageDeleted  bool   `json:"storage_deleted"`
	StorageWarning  string `json:"storage_warning,omitempty"`
}

// BlindedEntry is the only payload the PI-facing list ever carries. It has no
// field that can hold patient_id, name, or the actual age.
type BlindedEntry struct {
	Code    string `json:"code"`
	OPGLink string `json:"opg_link,omitempty"`
	Sex     string `json:"sex"`
	Method  string `json:"method"`
}

// EstimationEntry is one row of the append-only submission log.
type EstimationEntry struct {
	ID           int64             `json:"id"`
	Code         string            `json:"code"`
	EstimatedAge float64           `json:"estimated_age"`
	MethodUsed   Method            `json:"method_used"`
	ToothStages  map[string]string `json:"tooth_stages,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type SubmitEstimateRequest struct {
	Code         string            `json:"code"`
	EstimatedAge float64           `json:"estimated_age"`
	Method       string            `json:"method"`
	ErrorMargin  *float64          `json:"error_margin,omitempty"`
	ToothStages  map[string]string `json:"tooth_stages,omitempty"`
}

// SubmitEstimateResult distinguishes reconciled submissions from orphans.
type SubmitEstimateResult struct {
	EntryID    int64  `json:"entry_id"`
	Reconciled bool   `json:"reconciled"`
	Method     string `json:"method,omitempty"`
}

// AccuracyPair joins one patient's ground truth with one of its estimates.
type AccuracyPair struct {
	ActualAge    float64 `json:"actual_age"`
	EstimatedAge float64 `json:"estimated_age"`
	Method       Method  `json:"method"`
}

type MethodSummary struct {
	Method            Method  `json:"method"`
	Pairs             int     `json:"pairs"`
	MeanAbsoluteError float64 `json:"mean_absolute_error"`
	MeanError         float64 `json:"mean_error"`
}

type AnalysisSummary struct {
	Patients    int             `json:"patients"`
	Methods     []MethodSummary `json:"methods"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// ImportResult reports per-row outcome counts for a batch import.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Users / sessions
type User struct {
	ID        uuid.UUID  `json:"id"`
	Username  string     `json:"username"`
	Role      Role       `json:"role"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Role  Role   `json:"role"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Mutation event types published by the study service. The report service
// invalidates its cache on any of them.
const (
	EventPatientCreated     = "patient_created"
	EventPatientUpdated     = "patient_updated"
	EventPatientDeleted     = "patient_deleted"
	EventPatientsRenumbered = "patients_renumbered"
	EventCodesAssigned      = "codes_assigned"
	EventEstimateSubmitted  = "estimate_submitted"
	EventPatientsImported   = "patients_imported"
)
