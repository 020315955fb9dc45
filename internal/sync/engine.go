// Package sync pushes pending patient records to the external registry.
// Every attempt is recorded in the audit log, a per-record guard keeps
// concurrent attempts on the same record from double-submitting, and
// attempts are bounded by a configurable timeout.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clinsync/patient-registry/pkg/interfaces"
	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/monitoring"
	"github.com/clinsync/patient-registry/pkg/types"
)

const timeoutReason = "timeout"

// Engine coordinates sync attempts against the external registry
type Engine struct {
	store   interfaces.RecordStore
	cache   interfaces.OfflineCache
	target  interfaces.RemoteTarget
	audit   interfaces.AuditLog
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector

	timeout time.Duration
	workers int

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option configures an Engine
type Option func(*Engine)

// WithOfflineCache wires the offline cache so synced records get purged
// from the local queue
func WithOfflineCache(cache interfaces.OfflineCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithMetrics wires the metrics collector
func WithMetrics(metrics *monitoring.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithWorkers sets the bulk sync concurrency
func WithWorkers(workers int) Option {
	return func(e *Engine) {
		if workers > 0 {
			e.workers = workers
		}
	}
}

// NewEngine creates a sync engine
func NewEngine(store interfaces.RecordStore, target interfaces.RemoteTarget,
	auditLog interfaces.AuditLog, log *logger.Logger, timeout time.Duration, opts ...Option) *Engine {

	e := &Engine{
		store:    store,
		target:   target,
		audit:    auditLog,
		logger:   log,
		timeout:  timeout,
		workers:  4,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncRecord pushes a single pending record to the external registry.
// Only one attempt per record may be in flight at a time; a second
// caller gets a conflict error while the first attempt runs.
func (e *Engine) SyncRecord(ctx context.Context, recordID string, actor *types.User, meta *types.RequestMeta) (*types.SyncResult, error) {
	if !e.acquire(recordID) {
		return nil, types.NewConflictError(types.ErrCodeSyncInFlight,
			fmt.Sprintf("sync already in progress for record: %s", recordID))
	}
	defer e.release(recordID)

	record, err := e.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.SyncStatus != types.SyncStatusPending {
		return nil, types.NewValidationError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("record is %s, only pending records can sync", record.SyncStatus), nil)
	}

	start := time.Now()
	outcome := e.push(ctx, record)
	duration := time.Since(start)

	// Durability ordering: the store commits the status change before
	// the audit entry is appended, so a synced record is never lost
	// even if audit logging fails afterwards.
	if err := e.store.UpdateSyncResult(ctx, record.ID, outcome); err != nil {
		return nil, err
	}

	if e.cache != nil {
		if outcome.Status == types.SyncStatusSynced {
			if err := e.cache.Purge(ctx, record.ID); err != nil {
				e.logger.WithRecordID(record.ID).WithError(err).
					Warn("Failed to purge synced record from offline cache")
			}
		} else {
			if err := e.cache.MarkStatus(ctx, record.ID, outcome.Status); err != nil && !types.IsNotFound(err) {
				e.logger.WithRecordID(record.ID).WithError(err).
					Warn("Failed to update offline cache status")
			}
		}
	}

	e.appendAudit(ctx, record, outcome, actor, meta)
	e.observe(record.ID, outcome, duration)

	return &types.SyncResult{
		RecordID:         record.ID,
		Status:           outcome.Status,
		ExternalRecordID: outcome.ExternalRecordID,
		Reason:           outcome.Reason,
		Duration:         duration.Seconds(),
	}, nil
}

// SyncAllPending pushes every pending record, bounded by the configured
// worker count. Each record succeeds or fails independently; one bad
// record never aborts the batch.
func (e *Engine) SyncAllPending(ctx context.Context, actor *types.User, meta *types.RequestMeta) (*types.BatchSyncSummary, error) {
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	summary := &types.BatchSyncSummary{
		Attempted: len(pending),
		Results:   make([]*types.SyncResult, len(pending)),
	}
	if len(pending) == 0 {
		return summary, nil
	}

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for i, record := range pending {
		wg.Add(1)
		go func(i int, recordID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := e.SyncRecord(ctx, recordID, actor, meta)
			if err != nil {
				result = &types.SyncResult{
					RecordID: recordID,
					Status:   types.SyncStatusError,
					Reason:   err.Error(),
				}
			}
			summary.Results[i] = result
		}(i, record.ID)
	}
	wg.Wait()

	for _, result := range summary.Results {
		if result.Status == types.SyncStatusSynced {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	if e.metrics != nil {
		remaining, err := e.store.ListPending(ctx)
		if err == nil {
			e.metrics.SetPendingRecords(len(remaining))
		}
	}

	return summary, nil
}

// RetrySync re-queues an errored record and immediately attempts it
func (e *Engine) RetrySync(ctx context.Context, recordID string, actor *types.User, meta *types.RequestMeta) (*types.SyncResult, error) {
	record, err := e.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.SyncStatus != types.SyncStatusError {
		return nil, types.NewValidationError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("record is %s, only errored records can retry", record.SyncStatus), nil)
	}

	if err := e.store.UpdateSyncResult(ctx, recordID, types.SyncOutcome{Status: types.SyncStatusPending}); err != nil {
		return nil, err
	}

	return e.SyncRecord(ctx, recordID, actor, meta)
}

// push performs the remote submission bounded by the attempt timeout.
// A timed-out attempt fails with reason "timeout"; the record can be
// retried later.
func (e *Engine) push(ctx context.Context, record *types.PatientRecord) types.SyncOutcome {
	pushCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	externalID, err := e.target.Push(pushCtx, record)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || pushCtx.Err() == context.DeadlineExceeded {
			return types.SyncFailed(timeoutReason)
		}
		return types.SyncFailed(err.Error())
	}
	if externalID == "" {
		return types.SyncFailed("remote registry returned empty record ID")
	}

	return types.Synced(externalID)
}

func (e *Engine) appendAudit(ctx context.Context, record *types.PatientRecord, outcome types.SyncOutcome, actor *types.User, meta *types.RequestMeta) {
	changes := map[string]types.FieldChange{
		"sync_status": {From: string(types.SyncStatusPending), To: string(outcome.Status)},
	}
	if outcome.Status == types.SyncStatusSynced {
		changes["external_record_id"] = types.FieldChange{From: nil, To: outcome.ExternalRecordID}
	} else {
		changes["sync_error"] = types.FieldChange{From: nil, To: outcome.Reason}
	}

	entry := &types.AuditEntry{
		Action:      types.ActionSyncPatient,
		EntityType:  types.EntityPatient,
		EntityID:    record.ID,
		EntityLabel: record.Label(),
		Changes:     changes,
	}
	if actor != nil {
		entry.ActorEmail = actor.Email
	}
	if meta != nil {
		entry.IPAddress = meta.IPAddress
		entry.UserAgent = meta.UserAgent
	}

	err := e.audit.Append(ctx, entry)
	if err != nil {
		e.logger.WithRecordID(record.ID).WithError(err).
			Error("Failed to append sync audit entry")
	}
	if e.metrics != nil {
		e.metrics.RecordAuditEvent(string(entry.Action), err == nil)
	}
}

func (e *Engine) observe(recordID string, outcome types.SyncOutcome, duration time.Duration) {
	success := outcome.Status == types.SyncStatusSynced
	e.logger.SyncAttempt(recordID, success, outcome.Reason, duration.Milliseconds())

	if e.metrics != nil {
		e.metrics.RecordSyncAttempt(string(outcome.Status), duration)
	}
}

func (e *Engine) acquire(recordID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.inFlight[recordID]; busy {
		return false
	}
	e.inFlight[recordID] = struct{}{}
	return true
}

func (e *Engine) release(recordID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, recordID)
}
