// Package registry implements the patient registry core: validated
// record entry with offline capture, field-level update auditing, and
// the HTTP API surface.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/clinsync/patient-registry/pkg/interfaces"
	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/monitoring"
	"github.com/clinsync/patient-registry/pkg/types"
)

// Connectivity exposes the current reachability of the external
// registry
type Connectivity interface {
	Online() bool
}

// Service implements patient record operations
type Service struct {
	store        interfaces.RecordStore
	cache        interfaces.OfflineCache
	engine       interfaces.SyncEngine
	audit        interfaces.AuditLog
	connectivity Connectivity
	logger       *logger.Logger
	metrics      *monitoring.MetricsCollector
}

// NewService creates a registry service. The offline cache and
// connectivity monitor are optional.
func NewService(store interfaces.RecordStore, engine interfaces.SyncEngine,
	auditLog interfaces.AuditLog, log *logger.Logger) *Service {

	return &Service{
		store:  store,
		engine: engine,
		audit:  auditLog,
		logger: log,
	}
}

// SetOfflineCache wires the offline cache
func (s *Service) SetOfflineCache(cache interfaces.OfflineCache) {
	s.cache = cache
}

// SetConnectivity wires the connectivity monitor
func (s *Service) SetConnectivity(conn Connectivity) {
	s.connectivity = conn
}

// SetMetrics wires the metrics collector
func (s *Service) SetMetrics(metrics *monitoring.MetricsCollector) {
	s.metrics = metrics
}

// CreatePatientRecord validates and stores a new record. Records are
// also captured into the offline cache so pending work survives a
// crash while the external registry is unreachable. A rejected
// duplicate leaves no audit trace.
func (s *Service) CreatePatientRecord(ctx context.Context, req *types.CreatePatientRequest, actor *types.User, meta *types.RequestMeta) (*types.PatientRecord, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	record := &types.PatientRecord{
		PatientID:     req.PatientID,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		DateOfBirth:   req.DateOfBirth,
		Gender:        req.Gender,
		Diagnosis:     req.Diagnosis,
		TreatmentPlan: req.TreatmentPlan,
		Notes:         req.Notes,
	}
	if actor != nil {
		record.CreatedBy = actor.Email
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Capture(ctx, record); err != nil {
			s.logger.WithRecordID(record.ID).WithError(err).
				Warn("Failed to capture record in offline cache")
		}
	}

	s.appendAudit(ctx, actor, meta, &types.AuditEntry{
		Action:      types.ActionCreatePatient,
		EntityType:  types.EntityPatient,
		EntityID:    record.ID,
		EntityLabel: record.Label(),
		Changes:     createChanges(record),
	})

	return record, nil
}

// GetPatientRecord retrieves a record by internal ID
func (s *Service) GetPatientRecord(ctx context.Context, id string) (*types.PatientRecord, error) {
	return s.store.GetByID(ctx, id)
}

// ListPatientRecords returns all records, newest first
func (s *Service) ListPatientRecords(ctx context.Context) ([]*types.PatientRecord, error) {
	return s.store.List(ctx)
}

// UpdatePatientRecord applies field-level updates, auditing each
// changed field with its old and new value. A no-op update leaves no
// audit trace.
func (s *Service) UpdatePatientRecord(ctx context.Context, id string, updates *types.PatientUpdates, actor *types.User, meta *types.RequestMeta) (*types.PatientRecord, error) {
	if err := validateUpdates(updates); err != nil {
		return nil, err
	}

	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	changes := diffUpdates(existing, updates)
	if len(changes) == 0 {
		return existing, nil
	}

	updated, err := s.store.UpdateFields(ctx, id, updates)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && updated.SyncStatus == types.SyncStatusPending {
		if err := s.cache.Capture(ctx, updated); err != nil {
			s.logger.WithRecordID(id).WithError(err).
				Warn("Failed to refresh record in offline cache")
		}
	}

	s.appendAudit(ctx, actor, meta, &types.AuditEntry{
		Action:      types.ActionUpdatePatient,
		EntityType:  types.EntityPatient,
		EntityID:    updated.ID,
		EntityLabel: updated.Label(),
		Changes:     changes,
	})

	return updated, nil
}

// SyncPatientRecord pushes a single record to the external registry
func (s *Service) SyncPatientRecord(ctx context.Context, id string, actor *types.User, meta *types.RequestMeta) (*types.SyncResult, error) {
	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.SyncStatus == types.SyncStatusError {
		if engine, ok := s.engine.(interface {
			RetrySync(ctx context.Context, recordID string, actor *types.User, meta *types.RequestMeta) (*types.SyncResult, error)
		}); ok {
			return engine.RetrySync(ctx, id, actor, meta)
		}
	}

	return s.engine.SyncRecord(ctx, id, actor, meta)
}

// SyncAllPending pushes every pending record to the external registry
func (s *Service) SyncAllPending(ctx context.Context, actor *types.User, meta *types.RequestMeta) (*types.BatchSyncSummary, error) {
	return s.engine.SyncAllPending(ctx, actor, meta)
}

// QueryAuditLog returns audit entries matching the filter, newest first
func (s *Service) QueryAuditLog(ctx context.Context, filter *types.AuditFilter) ([]*types.AuditEntry, error) {
	return s.audit.Query(ctx, filter)
}

// AuditStats aggregates audit log activity
func (s *Service) AuditStats(ctx context.Context) (*types.AuditStats, error) {
	return s.audit.Stats(ctx)
}

// SyncStats snapshots record counts per sync status
func (s *Service) SyncStats(ctx context.Context) (*types.SyncStats, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &types.SyncStats{Total: len(records)}
	for _, record := range records {
		switch record.SyncStatus {
		case types.SyncStatusPending:
			stats.Pending++
		case types.SyncStatusSynced:
			stats.Synced++
		case types.SyncStatusError:
			stats.Errors++
		}
	}

	return stats, nil
}

// Online reports whether the external registry is reachable
func (s *Service) Online() bool {
	if s.connectivity == nil {
		return true
	}
	return s.connectivity.Online()
}

func (s *Service) appendAudit(ctx context.Context, actor *types.User, meta *types.RequestMeta, entry *types.AuditEntry) {
	if actor != nil {
		entry.ActorEmail = actor.Email
	}
	if meta != nil {
		entry.IPAddress = meta.IPAddress
		entry.UserAgent = meta.UserAgent
	}
	err := s.audit.Append(ctx, entry)
	if err != nil {
		s.logger.WithError(err).Error("Failed to append patient audit entry")
	}
	if s.metrics != nil {
		s.metrics.RecordAuditEvent(string(entry.Action), err == nil)
	}
}

func createChanges(record *types.PatientRecord) map[string]types.FieldChange {
	changes := map[string]types.FieldChange{
		"patient_id": {From: nil, To: record.PatientID},
		"first_name": {From: nil, To: record.FirstName},
		"last_name":  {From: nil, To: record.LastName},
	}
	if record.DateOfBirth != nil {
		changes["date_of_birth"] = types.FieldChange{From: nil, To: record.DateOfBirth.Format("2006-01-02")}
	}
	if record.Gender != "" {
		changes["gender"] = types.FieldChange{From: nil, To: record.Gender}
	}
	if record.Diagnosis != "" {
		changes["diagnosis"] = types.FieldChange{From: nil, To: record.Diagnosis}
	}
	if record.TreatmentPlan != "" {
		changes["treatment_plan"] = types.FieldChange{From: nil, To: record.TreatmentPlan}
	}
	if record.Notes != "" {
		changes["notes"] = types.FieldChange{From: nil, To: record.Notes}
	}
	return changes
}

func diffUpdates(existing *types.PatientRecord, updates *types.PatientUpdates) map[string]types.FieldChange {
	changes := make(map[string]types.FieldChange)

	diffString := func(field, old string, updated *string) {
		if updated != nil && *updated != old {
			changes[field] = types.FieldChange{From: old, To: *updated}
		}
	}

	diffString("first_name", existing.FirstName, updates.FirstName)
	diffString("last_name", existing.LastName, updates.LastName)
	diffString("gender", existing.Gender, updates.Gender)
	diffString("diagnosis", existing.Diagnosis, updates.Diagnosis)
	diffString("treatment_plan", existing.TreatmentPlan, updates.TreatmentPlan)
	diffString("notes", existing.Notes, updates.Notes)

	if updates.DateOfBirth != nil {
		newDOB := updates.DateOfBirth.Format("2006-01-02")
		var oldDOB interface{}
		if existing.DateOfBirth != nil {
			oldDOB = existing.DateOfBirth.Format("2006-01-02")
		}
		if oldDOB != newDOB {
			changes["date_of_birth"] = types.FieldChange{From: oldDOB, To: newDOB}
		}
	}

	return changes
}

func validateCreateRequest(req *types.CreatePatientRequest) error {
	details := make(map[string]interface{})

	if !types.PatientIDPattern.MatchString(req.PatientID) {
		details["patient_id"] = "must match format PAT-NNNNNN-AAA"
	}
	if req.FirstName == "" {
		details["first_name"] = "first name is required"
	}
	if req.LastName == "" {
		details["last_name"] = "last name is required"
	}
	if req.DateOfBirth != nil && req.DateOfBirth.After(time.Now()) {
		details["date_of_birth"] = "date of birth cannot be in the future"
	}
	checkLen(details, "diagnosis", req.Diagnosis, types.MaxTextFieldLen)
	checkLen(details, "treatment_plan", req.TreatmentPlan, types.MaxTextFieldLen)
	checkLen(details, "notes", req.Notes, types.MaxNotesLen)

	if len(details) > 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "invalid patient record", details)
	}
	return nil
}

func validateUpdates(updates *types.PatientUpdates) error {
	details := make(map[string]interface{})

	if updates.FirstName != nil && *updates.FirstName == "" {
		details["first_name"] = "first name cannot be empty"
	}
	if updates.LastName != nil && *updates.LastName == "" {
		details["last_name"] = "last name cannot be empty"
	}
	if updates.DateOfBirth != nil && updates.DateOfBirth.After(time.Now()) {
		details["date_of_birth"] = "date of birth cannot be in the future"
	}
	if updates.Diagnosis != nil {
		checkLen(details, "diagnosis", *updates.Diagnosis, types.MaxTextFieldLen)
	}
	if updates.TreatmentPlan != nil {
		checkLen(details, "treatment_plan", *updates.TreatmentPlan, types.MaxTextFieldLen)
	}
	if updates.Notes != nil {
		checkLen(details, "notes", *updates.Notes, types.MaxNotesLen)
	}

	if len(details) > 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "invalid patient updates", details)
	}
	return nil
}

func checkLen(details map[string]interface{}, field, value string, max int) {
	if len(value) > max {
		details[field] = fmt.Sprintf("must be at most %d characters", max)
	}
}
