// Package offline provides the SQLite-backed local cache that keeps
// data entry working while the external registry is unreachable.
// Captured records survive process restarts and are purged once the
// authoritative store confirms them synced.
package offline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clinsync/patient-registry/pkg/encryption"
	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS captured_records (
	id TEXT PRIMARY KEY,
	patient_id TEXT NOT NULL,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	date_of_birth TIMESTAMP,
	gender TEXT NOT NULL DEFAULT '',
	diagnosis TEXT NOT NULL DEFAULT '',
	treatment_plan TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	sync_status TEXT NOT NULL DEFAULT 'pending',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captured_status ON captured_records(sync_status);
`

// Cache is a SQLite-backed offline record cache
type Cache struct {
	db        *sql.DB
	logger    *logger.Logger
	encryptor *encryption.FieldEncryptor
}

// Option configures the cache
type Option func(*Cache)

// WithFieldEncryption encrypts clinical fields (diagnosis, treatment
// plan, notes) at rest. The cache file often lives on a field laptop.
func WithFieldEncryption(enc *encryption.FieldEncryptor) Option {
	return func(c *Cache) { c.encryptor = enc }
}

// NewCache opens (or creates) the cache database at the given path
func NewCache(path string, log *logger.Logger, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open offline cache: %w", err)
	}

	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize offline cache schema: %w", err)
	}

	cache := &Cache{db: db, logger: log}
	for _, opt := range opts {
		opt(cache)
	}

	log.WithFields(map[string]interface{}{
		"path":      path,
		"encrypted": cache.encryptor != nil,
	}).Info("Offline cache opened")
	return cache, nil
}

// Close closes the cache database
func (c *Cache) Close() error {
	return c.db.Close()
}

// Health reports whether the cache database is reachable
func (c *Cache) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Capture upserts a record into the local queue. Capturing the same ID
// twice updates in place, so retried offline submissions stay
// idempotent.
func (c *Cache) Capture(ctx context.Context, record *types.PatientRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	diagnosis, treatmentPlan, notes, err := c.sealClinical(record)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to encrypt record fields", err)
	}

	query := `
		INSERT INTO captured_records (
			id, patient_id, first_name, last_name, date_of_birth, gender,
			diagnosis, treatment_plan, notes, sync_status, created_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			patient_id = excluded.patient_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			date_of_birth = excluded.date_of_birth,
			gender = excluded.gender,
			diagnosis = excluded.diagnosis,
			treatment_plan = excluded.treatment_plan,
			notes = excluded.notes,
			sync_status = 'pending',
			updated_at = excluded.updated_at`

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.PatientID,
		record.FirstName,
		record.LastName,
		record.DateOfBirth,
		record.Gender,
		diagnosis,
		treatmentPlan,
		notes,
		types.SyncStatusPending,
		record.CreatedBy,
		record.CreatedAt,
		now,
	)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to capture record offline", err)
	}

	c.logger.WithRecordID(record.ID).Debug("Captured record offline")
	return nil
}

// ListCaptured returns all locally captured records, oldest first
func (c *Cache) ListCaptured(ctx context.Context) ([]*types.PatientRecord, error) {
	query := `
		SELECT id, patient_id, first_name, last_name, date_of_birth, gender,
			   diagnosis, treatment_plan, notes, sync_status, created_by,
			   created_at, updated_at
		FROM captured_records
		ORDER BY created_at ASC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to list captured records", err)
	}
	defer rows.Close()

	var records []*types.PatientRecord
	for rows.Next() {
		var record types.PatientRecord
		var dateOfBirth sql.NullTime

		err := rows.Scan(
			&record.ID,
			&record.PatientID,
			&record.FirstName,
			&record.LastName,
			&dateOfBirth,
			&record.Gender,
			&record.Diagnosis,
			&record.TreatmentPlan,
			&record.Notes,
			&record.SyncStatus,
			&record.CreatedBy,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to scan captured record", err)
		}
		if dateOfBirth.Valid {
			record.DateOfBirth = &dateOfBirth.Time
		}
		if err := c.openClinical(&record); err != nil {
			return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to decrypt record fields", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "error iterating captured records", err)
	}

	return records, nil
}

// MarkStatus updates the cached sync status for a record
func (c *Cache) MarkStatus(ctx context.Context, id string, status types.SyncStatus) error {
	query := `UPDATE captured_records SET sync_status = ?, updated_at = ? WHERE id = ?`

	result, err := c.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to mark captured record", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to get rows affected", err)
	}
	if rows == 0 {
		return types.NewNotFoundError(types.ErrCodeRecordNotFound,
			fmt.Sprintf("captured record not found: %s", id))
	}

	return nil
}

// Purge removes a record once the upstream store confirms it synced.
// Purging an unknown ID is a no-op.
func (c *Cache) Purge(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM captured_records WHERE id = ?`, id)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to purge captured record", err)
	}
	return nil
}

func (c *Cache) sealClinical(record *types.PatientRecord) (diagnosis, treatmentPlan, notes string, err error) {
	if c.encryptor == nil {
		return record.Diagnosis, record.TreatmentPlan, record.Notes, nil
	}

	if diagnosis, err = c.encryptor.EncryptString(record.Diagnosis); err != nil {
		return "", "", "", err
	}
	if treatmentPlan, err = c.encryptor.EncryptString(record.TreatmentPlan); err != nil {
		return "", "", "", err
	}
	if notes, err = c.encryptor.EncryptString(record.Notes); err != nil {
		return "", "", "", err
	}
	return diagnosis, treatmentPlan, notes, nil
}

func (c *Cache) openClinical(record *types.PatientRecord) error {
	if c.encryptor == nil {
		return nil
	}

	var err error
	if record.Diagnosis, err = c.encryptor.DecryptString(record.Diagnosis); err != nil {
		return err
	}
	if record.TreatmentPlan, err = c.encryptor.DecryptString(record.TreatmentPlan); err != nil {
		return err
	}
	record.Notes, err = c.encryptor.DecryptString(record.Notes)
	return err
}
