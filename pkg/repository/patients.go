// Package repository contains the PostgreSQL-backed persistence layer
// for patient records, audit entries and users.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

const uniqueViolation = "23505"

// PatientRepository handles patient record persistence
type PatientRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *sql.DB, log *logger.Logger) *PatientRepository {
	return &PatientRepository{
		db:     db,
		logger: log,
	}
}

const patientColumns = `id, patient_id, first_name, last_name, date_of_birth, gender,
		   diagnosis, treatment_plan, notes, sync_status, external_record_id,
		   sync_error, created_by, created_at, updated_at`

// Create inserts a new patient record. New records always start pending
// with no external record ID, regardless of what the caller set.
func (r *PatientRepository) Create(ctx context.Context, record *types.PatientRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	record.SyncStatus = types.SyncStatusPending
	record.ExternalRecordID = ""
	record.SyncError = ""

	query := `
		INSERT INTO patient_records (
			id, patient_id, first_name, last_name, date_of_birth, gender,
			diagnosis, treatment_plan, notes, sync_status, created_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.PatientID,
		record.FirstName,
		record.LastName,
		record.DateOfBirth,
		record.Gender,
		record.Diagnosis,
		record.TreatmentPlan,
		record.Notes,
		record.SyncStatus,
		record.CreatedBy,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return types.NewConflictError(types.ErrCodeDuplicatePatientID,
				fmt.Sprintf("patient ID already exists: %s", record.PatientID))
		}
		return types.NewInternalError(types.ErrCodeInternalError, "failed to create patient record", err)
	}

	r.logger.WithRecordID(record.ID).WithField("patient_id", record.PatientID).
		Info("Created patient record")
	return nil
}

// GetByID retrieves a record by internal ID
func (r *PatientRepository) GetByID(ctx context.Context, id string) (*types.PatientRecord, error) {
	query := `SELECT ` + patientColumns + ` FROM patient_records WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// GetByPatientID retrieves a record by business-facing patient ID
func (r *PatientRepository) GetByPatientID(ctx context.Context, patientID string) (*types.PatientRecord, error) {
	query := `SELECT ` + patientColumns + ` FROM patient_records WHERE patient_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, patientID), patientID)
}

// List returns all records, newest first
func (r *PatientRepository) List(ctx context.Context) ([]*types.PatientRecord, error) {
	query := `SELECT ` + patientColumns + ` FROM patient_records ORDER BY created_at DESC`
	return r.queryRecords(ctx, query)
}

// ListPending returns records awaiting sync, oldest first so the longest
// queued records go out first
func (r *PatientRepository) ListPending(ctx context.Context) ([]*types.PatientRecord, error) {
	query := `SELECT ` + patientColumns + ` FROM patient_records
		WHERE sync_status = $1 ORDER BY created_at ASC`
	return r.queryRecords(ctx, query, types.SyncStatusPending)
}

// UpdateSyncResult applies a sync outcome. Synced records are terminal:
// the WHERE clause refuses to move a record out of synced state.
func (r *PatientRepository) UpdateSyncResult(ctx context.Context, id string, outcome types.SyncOutcome) error {
	var query string
	var args []interface{}

	switch outcome.Status {
	case types.SyncStatusSynced:
		if outcome.ExternalRecordID == "" {
			return types.NewValidationError(types.ErrCodeInvalidTransition,
				"synced outcome requires an external record ID", nil)
		}
		query = `UPDATE patient_records
			SET sync_status = $1, external_record_id = $2, sync_error = '', updated_at = $3
			WHERE id = $4 AND sync_status <> $1`
		args = []interface{}{types.SyncStatusSynced, outcome.ExternalRecordID, time.Now().UTC(), id}
	case types.SyncStatusError:
		query = `UPDATE patient_records
			SET sync_status = $1, external_record_id = '', sync_error = $2, updated_at = $3
			WHERE id = $4 AND sync_status = $5`
		args = []interface{}{types.SyncStatusError, outcome.Reason, time.Now().UTC(), id, types.SyncStatusPending}
	case types.SyncStatusPending:
		// Retry path: only error records may be re-queued.
		query = `UPDATE patient_records
			SET sync_status = $1, external_record_id = '', sync_error = '', updated_at = $2
			WHERE id = $3 AND sync_status = $4`
		args = []interface{}{types.SyncStatusPending, time.Now().UTC(), id, types.SyncStatusError}
	default:
		return types.NewValidationError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("unknown sync status: %s", outcome.Status), nil)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to update sync status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to get rows affected", err)
	}
	if rows == 0 {
		existing, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return types.NewValidationError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("cannot transition record from %s to %s", existing.SyncStatus, outcome.Status), nil)
	}

	return nil
}

// UpdateFields applies field-level updates and returns the fresh record
func (r *PatientRepository) UpdateFields(ctx context.Context, id string, updates *types.PatientUpdates) (*types.PatientRecord, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIndex := 1

	addSet := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if updates.FirstName != nil {
		addSet("first_name", *updates.FirstName)
	}
	if updates.LastName != nil {
		addSet("last_name", *updates.LastName)
	}
	if updates.DateOfBirth != nil {
		addSet("date_of_birth", *updates.DateOfBirth)
	}
	if updates.Gender != nil {
		addSet("gender", *updates.Gender)
	}
	if updates.Diagnosis != nil {
		addSet("diagnosis", *updates.Diagnosis)
	}
	if updates.TreatmentPlan != nil {
		addSet("treatment_plan", *updates.TreatmentPlan)
	}
	if updates.Notes != nil {
		addSet("notes", *updates.Notes)
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	addSet("updated_at", time.Now().UTC())

	query := "UPDATE patient_records SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += fmt.Sprintf(" WHERE id = $%d", argIndex)
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to update patient record", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to get rows affected", err)
	}
	if rows == 0 {
		return nil, types.NewNotFoundError(types.ErrCodeRecordNotFound,
			fmt.Sprintf("patient record not found: %s", id))
	}

	return r.GetByID(ctx, id)
}

func (r *PatientRepository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*types.PatientRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to query patient records", err)
	}
	defer rows.Close()

	var records []*types.PatientRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "error iterating patient rows", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PatientRepository) scanOne(row rowScanner, id string) (*types.PatientRecord, error) {
	record, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, types.NewNotFoundError(types.ErrCodeRecordNotFound,
			fmt.Sprintf("patient record not found: %s", id))
	}
	return record, nil
}

func scanRecord(row rowScanner) (*types.PatientRecord, error) {
	var record types.PatientRecord
	var dateOfBirth sql.NullTime
	var gender, diagnosis, treatmentPlan, notes, externalRecordID, syncError sql.NullString

	err := row.Scan(
		&record.ID,
		&record.PatientID,
		&record.FirstName,
		&record.LastName,
		&dateOfBirth,
		&gender,
		&diagnosis,
		&treatmentPlan,
		&notes,
		&record.SyncStatus,
		&externalRecordID,
		&syncError,
		&record.CreatedBy,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to scan patient record", err)
	}

	if dateOfBirth.Valid {
		record.DateOfBirth = &dateOfBirth.Time
	}
	record.Gender = gender.String
	record.Diagnosis = diagnosis.String
	record.TreatmentPlan = treatmentPlan.String
	record.Notes = notes.String
	record.ExternalRecordID = externalRecordID.String
	record.SyncError = syncError.String

	return &record, nil
}
