// Package store provides an in-memory record store used in deployments
// without PostgreSQL and throughout the test suite. It enforces the
// same sync status transitions as the database-backed repository.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinsync/patient-registry/pkg/types"
)

// MemoryStore is an in-memory implementation of the record store
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.PatientRecord
	byPID   map[string]string
}

// NewMemoryStore creates an empty in-memory record store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*types.PatientRecord),
		byPID:   make(map[string]string),
	}
}

// Create inserts a new record. New records always start pending with no
// external record ID.
func (s *MemoryStore) Create(ctx context.Context, record *types.PatientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPID[record.PatientID]; exists {
		return types.NewConflictError(types.ErrCodeDuplicatePatientID,
			fmt.Sprintf("patient ID already exists: %s", record.PatientID))
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	record.SyncStatus = types.SyncStatusPending
	record.ExternalRecordID = ""
	record.SyncError = ""

	stored := *record
	s.records[record.ID] = &stored
	s.byPID[record.PatientID] = record.ID

	return nil
}

// GetByID retrieves a record by internal ID
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*types.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeRecordNotFound,
			fmt.Sprintf("patient record not found: %s", id))
	}

	copied := *record
	return &copied, nil
}

// GetByPatientID retrieves a record by business-facing patient ID
func (s *MemoryStore) GetByPatientID(ctx context.Context, patientID string) (*types.PatientRecord, error) {
	s.mu.RLock()
	id, ok := s.byPID[patientID]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeRecordNotFound,
			fmt.Sprintf("patient record not found: %s", patientID))
	}
	return s.GetByID(ctx, id)
}

// List returns all records, newest first
func (s *MemoryStore) List(ctx context.Context) ([]*types.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*types.PatientRecord, 0, len(s.records))
	for _, record := range s.records {
		copied := *record
		records = append(records, &copied)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

// ListPending returns records awaiting sync, oldest first
func (s *MemoryStore) ListPending(ctx context.Context) ([]*types.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*types.PatientRecord
	for _, record := range s.records {
		if record.SyncStatus == types.SyncStatusPending {
			copied := *record
			pending = append(pending, &copied)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}

// UpdateSyncResult applies a sync outcome, enforcing the status
// lifecycle: pending may move to synced or error, error may be re-queued
// to pending, and synced is terminal.
func (s *MemoryStore) UpdateSyncResult(ctx context.Context, id string, outcome types.SyncOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return types.NewNotFoundError(types.ErrCodeRecordNotFound,
			fmt.Sprintf("patient record not found: %s", id))
	}

	switch outcome.Status {
	case types.SyncStatusSynced:
		if outcome.ExternalRecordID == "" {
			return types.NewValidationError(types.ErrCodeInvalidTransition,
				"synced outcome requires an external record ID", nil)
		}
		if record.SyncStatus == types.SyncStatusSynced {
			return types.NewValidationError(types.ErrCodeInvalidTransition,
				"record is already synced", nil)
		}
		record.SyncStatus = types.SyncStatusSynced
		record.ExternalRecordID = outcome.ExternalRecordID
		record.SyncError = ""
	case types.SyncStatusError:
		if record.SyncStatus != types.SyncStatusPending {
			return types.NewValidationError(types.ErrCodeInvalidTransition,
				fmt.Sprintf("cannot transition record from %s to error", record.SyncStatus), nil)
		}
		record.SyncStatus = types.SyncStatusError
		record.ExternalRecordID = ""
		record.SyncError = outcome.Reason
	case types.SyncStatusPending:
		if record.SyncStatus != types.SyncStatusError {
			return types.NewValidationError(types.ErrCodeInvalidTransition,
				fmt.Sprintf("cannot re-queue record from %s", record.SyncStatus), nil)
		}
		record.SyncStatus = types.SyncStatusPending
		record.ExternalRecordID = ""
		record.SyncError = ""
	default:
		return types.NewValidationError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("unknown sync status: %s", outcome.Status), nil)
	}

	record.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateFields applies field-level updates and returns the fresh record
func (s *MemoryStore) UpdateFields(ctx context.Context, id string, updates *types.PatientUpdates) (*types.PatientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeRecordNotFound,
			fmt.Sprintf("patient record not found: %s", id))
	}

	if updates.FirstName != nil {
		record.FirstName = *updates.FirstName
	}
	if updates.LastName != nil {
		record.LastName = *updates.LastName
	}
	if updates.DateOfBirth != nil {
		dob := *updates.DateOfBirth
		record.DateOfBirth = &dob
	}
	if updates.Gender != nil {
		record.Gender = *updates.Gender
	}
	if updates.Diagnosis != nil {
		record.Diagnosis = *updates.Diagnosis
	}
	if updates.TreatmentPlan != nil {
		record.TreatmentPlan = *updates.TreatmentPlan
	}
	if updates.Notes != nil {
		record.Notes = *updates.Notes
	}
	record.UpdatedAt = time.Now().UTC()

	copied := *record
	return &copied, nil
}
