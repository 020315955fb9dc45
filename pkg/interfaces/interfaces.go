// Package interfaces defines the contracts between the registry core and
// its collaborators. Implementations live in internal packages and
// pkg/repository; services accept these interfaces and return structs.
package interfaces

import (
	"context"

	"github.com/clinsync/patient-registry/pkg/types"
)

// RecordStore is the authoritative patient record store
type RecordStore interface {
	// Create inserts a new record, assigning its ID and forcing
	// sync_status=pending with no external record ID. Returns a
	// conflict error when patient_id already exists.
	Create(ctx context.Context, record *types.PatientRecord) error

	// GetByID retrieves a record by internal ID
	GetByID(ctx context.Context, id string) (*types.PatientRecord, error)

	// GetByPatientID retrieves a record by business-facing patient ID
	GetByPatientID(ctx context.Context, patientID string) (*types.PatientRecord, error)

	// List returns all records, newest first
	List(ctx context.Context) ([]*types.PatientRecord, error)

	// ListPending returns records awaiting sync, oldest first
	ListPending(ctx context.Context) ([]*types.PatientRecord, error)

	// UpdateSyncResult applies a sync outcome to a record. Records
	// already in synced state never transition backward.
	UpdateSyncResult(ctx context.Context, id string, outcome types.SyncOutcome) error

	// UpdateFields applies field-level updates to a record
	UpdateFields(ctx context.Context, id string, updates *types.PatientUpdates) (*types.PatientRecord, error)
}

// OfflineCache is the durable local mirror used while the authoritative
// store is unreachable
type OfflineCache interface {
	// Capture upserts a record into the local queue, marking it
	// pending. Capturing the same ID twice updates in place.
	Capture(ctx context.Context, record *types.PatientRecord) error

	// ListCaptured returns all locally captured records
	ListCaptured(ctx context.Context) ([]*types.PatientRecord, error)

	// MarkStatus updates the cached sync status for a record
	MarkStatus(ctx context.Context, id string, status types.SyncStatus) error

	// Purge removes a record once the upstream store confirms it synced
	Purge(ctx context.Context, id string) error
}

// AuditLog is the append-only ledger of state-changing actions
type AuditLog interface {
	// Append writes an immutable entry, assigning a monotonically
	// increasing ID and a timestamp if unset
	Append(ctx context.Context, entry *types.AuditEntry) error

	// Query returns entries matching the filter, newest first
	Query(ctx context.Context, filter *types.AuditFilter) ([]*types.AuditEntry, error)

	// Stats aggregates activity across the whole log
	Stats(ctx context.Context) (*types.AuditStats, error)
}

// RemoteTarget submits records to the external registry
type RemoteTarget interface {
	// Push submits a record and returns the external record ID
	// assigned by the remote system
	Push(ctx context.Context, record *types.PatientRecord) (string, error)

	// Healthy probes the remote system for reachability
	Healthy(ctx context.Context) bool
}

// UserRepository handles user persistence
type UserRepository interface {
	Create(ctx context.Context, user *types.User) error
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	List(ctx context.Context) ([]*types.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	RecordLogin(ctx context.Context, id string) error
}

// PasswordManager hashes and verifies passwords
type PasswordManager interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hashedPassword, password string) (bool, error)
}

// SyncEngine pushes pending records to the external registry
type SyncEngine interface {
	SyncRecord(ctx context.Context, recordID string, actor *types.User, meta *types.RequestMeta) (*types.SyncResult, error)
	SyncAllPending(ctx context.Context, actor *types.User, meta *types.RequestMeta) (*types.BatchSyncSummary, error)
}
