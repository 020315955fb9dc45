package types

import (
	"regexp"
	"time"
)

// SyncStatus represents the lifecycle state of a patient record relative
// to the external registry
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// PatientIDPattern is the required format for business-facing patient
// identifiers, e.g. PAT-123456-ABC
var PatientIDPattern = regexp.MustCompile(`^PAT-[0-9]{6}-[A-Z]{3}$`)

// Field length limits for free-text patient fields
const (
	MaxTextFieldLen = 2000
	MaxNotesLen     = 5000
)

// PatientRecord represents a single patient record in the registry
type PatientRecord struct {
	ID               string     `json:"id" db:"id"`
	PatientID        string     `json:"patient_id" db:"patient_id"`
	FirstName        string     `json:"first_name" db:"first_name"`
	LastName         string     `json:"last_name" db:"last_name"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Gender           string     `json:"gender,omitempty" db:"gender"`
	Diagnosis        string     `json:"diagnosis,omitempty" db:"diagnosis"`
	TreatmentPlan    string     `json:"treatment_plan,omitempty" db:"treatment_plan"`
	Notes            string     `json:"notes,omitempty" db:"notes"`
	SyncStatus       SyncStatus `json:"sync_status" db:"sync_status"`
	ExternalRecordID string     `json:"external_record_id,omitempty" db:"external_record_id"`
	SyncError        string     `json:"sync_error,omitempty" db:"sync_error"`
	CreatedBy        string     `json:"created_by" db:"created_by"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Label returns the human-readable label used in audit entries,
// e.g. "PAT-123456-ABC (John Doe)"
func (r *PatientRecord) Label() string {
	return r.PatientID + " (" + r.FirstName + " " + r.LastName + ")"
}

// CreatePatientRequest represents patient record creation data
type CreatePatientRequest struct {
	PatientID     string     `json:"patient_id" validate:"required"`
	FirstName     string     `json:"first_name" validate:"required"`
	LastName      string     `json:"last_name" validate:"required"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	Diagnosis     string     `json:"diagnosis,omitempty"`
	TreatmentPlan string     `json:"treatment_plan,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// PatientUpdates represents updates to mutable patient record fields.
// Nil pointers leave the field unchanged.
type PatientUpdates struct {
	FirstName     *string    `json:"first_name,omitempty"`
	LastName      *string    `json:"last_name,omitempty"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty"`
	Gender        *string    `json:"gender,omitempty"`
	Diagnosis     *string    `json:"diagnosis,omitempty"`
	TreatmentPlan *string    `json:"treatment_plan,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

// SyncOutcome is the result of a single remote submission attempt
type SyncOutcome struct {
	Status           SyncStatus `json:"status"`
	ExternalRecordID string     `json:"external_record_id,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

// Synced builds a successful sync outcome
func Synced(externalRecordID string) SyncOutcome {
	return SyncOutcome{Status: SyncStatusSynced, ExternalRecordID: externalRecordID}
}

// SyncFailed builds a failed sync outcome
func SyncFailed(reason string) SyncOutcome {
	return SyncOutcome{Status: SyncStatusError, Reason: reason}
}

// SyncResult represents the outcome of a single-record sync attempt as
// reported to the caller
type SyncResult struct {
	RecordID         string     `json:"record_id"`
	Status           SyncStatus `json:"status"`
	ExternalRecordID string     `json:"external_record_id,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	Duration         float64    `json:"duration_seconds"`
}

// BatchSyncSummary summarizes a bulk sync over all pending records
type BatchSyncSummary struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []*SyncResult `json:"results"`
}

// SyncStats is a snapshot of record counts per sync status
type SyncStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Errors  int `json:"errors"`
}
