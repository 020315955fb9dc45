package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/patient-registry/internal/audit"
	"github.com/clinsync/patient-registry/internal/store"
	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

// scriptedTarget returns canned outcomes per patient ID
type scriptedTarget struct {
	mu       sync.Mutex
	failures map[string]error
	delay    time.Duration
	pushed   int
}

func (t *scriptedTarget) Push(ctx context.Context, record *types.PatientRecord) (string, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushed++
	if err, ok := t.failures[record.PatientID]; ok {
		return "", err
	}
	return "EXT-" + record.PatientID, nil
}

func (t *scriptedTarget) Healthy(ctx context.Context) bool { return true }

// fakeCache records purge and status calls
type fakeCache struct {
	mu       sync.Mutex
	captured map[string]types.SyncStatus
	purged   []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{captured: make(map[string]types.SyncStatus)}
}

func (c *fakeCache) Capture(ctx context.Context, record *types.PatientRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captured[record.ID] = types.SyncStatusPending
	return nil
}

func (c *fakeCache) ListCaptured(ctx context.Context) ([]*types.PatientRecord, error) {
	return nil, nil
}

func (c *fakeCache) MarkStatus(ctx context.Context, id string, status types.SyncStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.captured[id]; !ok {
		return types.NewNotFoundError(types.ErrCodeRecordNotFound, "not captured")
	}
	c.captured[id] = status
	return nil
}

func (c *fakeCache) Purge(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.captured, id)
	c.purged = append(c.purged, id)
	return nil
}

func testActor() *types.User {
	return &types.User{
		ID:    "user-1",
		Email: "researcher@clinic.org",
		Role:  types.RoleResearcher,
	}
}

func createPending(t *testing.T, s *store.MemoryStore, patientID string) *types.PatientRecord {
	t.Helper()
	record := &types.PatientRecord{
		PatientID: patientID,
		FirstName: "Jane",
		LastName:  "Doe",
		CreatedBy: "researcher@clinic.org",
	}
	require.NoError(t, s.Create(context.Background(), record))
	return record
}

func TestEngine_SyncRecordSuccess(t *testing.T) {
	s := store.NewMemoryStore()
	log := audit.NewMemoryLog()
	cache := newFakeCache()
	target := &scriptedTarget{}
	ctx := context.Background()

	engine := NewEngine(s, target, log, logger.New("debug"), time.Second,
		WithOfflineCache(cache))

	record := createPending(t, s, "PAT-111111-AAA")
	require.NoError(t, cache.Capture(ctx, record))

	result, err := engine.SyncRecord(ctx, record.ID, testActor(), &types.RequestMeta{IPAddress: "10.0.0.5"})
	require.NoError(t, err)

	assert.Equal(t, types.SyncStatusSynced, result.Status)
	assert.Equal(t, "EXT-PAT-111111-AAA", result.ExternalRecordID)

	stored, err := s.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, stored.SyncStatus)
	assert.Equal(t, "EXT-PAT-111111-AAA", stored.ExternalRecordID)

	// Offline cache no longer holds the synced record.
	assert.Contains(t, cache.purged, record.ID)

	entries, err := log.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.ActionSyncPatient, entries[0].Action)
	assert.Equal(t, "researcher@clinic.org", entries[0].ActorEmail)
	assert.Equal(t, "10.0.0.5", entries[0].IPAddress)
	assert.Equal(t, string(types.SyncStatusPending), entries[0].Changes["sync_status"].From)
	assert.Equal(t, string(types.SyncStatusSynced), entries[0].Changes["sync_status"].To)
	assert.Nil(t, entries[0].Changes["external_record_id"].From)
	assert.Equal(t, "EXT-PAT-111111-AAA", entries[0].Changes["external_record_id"].To)
}

func TestEngine_SyncRecordFailure(t *testing.T) {
	s := store.NewMemoryStore()
	log := audit.NewMemoryLog()
	target := &scriptedTarget{failures: map[string]error{
		"PAT-111111-AAA": fmt.Errorf("remote registry rejected record"),
	}}
	ctx := context.Background()

	engine := NewEngine(s, target, log, logger.New("debug"), time.Second)

	record := createPending(t, s, "PAT-111111-AAA")

	result, err := engine.SyncRecord(ctx, record.ID, testActor(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusError, result.Status)
	assert.Contains(t, result.Reason, "rejected")

	stored, err := s.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusError, stored.SyncStatus)
	assert.Empty(t, stored.ExternalRecordID)
	assert.Contains(t, stored.SyncError, "rejected")

	// Failed attempts still produce an audit entry.
	entries, err := log.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(types.SyncStatusError), entries[0].Changes["sync_status"].To)
}

func TestEngine_SyncRecordTimeout(t *testing.T) {
	s := store.NewMemoryStore()
	log := audit.NewMemoryLog()
	target := &scriptedTarget{delay: 200 * time.Millisecond}
	ctx := context.Background()

	engine := NewEngine(s, target, log, logger.New("debug"), 20*time.Millisecond)

	record := createPending(t, s, "PAT-111111-AAA")

	result, err := engine.SyncRecord(ctx, record.ID, testActor(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusError, result.Status)
	assert.Equal(t, "timeout", result.Reason)

	stored, err := s.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusError, stored.SyncStatus)
	assert.Equal(t, "timeout", stored.SyncError)

	// The guard is released after a timeout: a retry can proceed.
	target.delay = 0
	retried, err := engine.RetrySync(ctx, record.ID, testActor(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, retried.Status)
}

func TestEngine_InFlightGuard(t *testing.T) {
	s := store.NewMemoryStore()
	log := audit.NewMemoryLog()
	target := &scriptedTarget{delay: 100 * time.Millisecond}
	ctx := context.Background()

	engine := NewEngine(s, target, log, logger.New("debug"), time.Second)

	record := createPending(t, s, "PAT-111111-AAA")

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := engine.SyncRecord(ctx, record.ID, testActor(), nil)
		done <- err
	}()

	<-started
	time.Sleep(20 * time.Millisecond)

	_, err := engine.SyncRecord(ctx, record.ID, testActor(), nil)
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))

	require.NoError(t, <-done)

	// Exactly one push reached the remote registry.
	target.mu.Lock()
	defer target.mu.Unlock()
	assert.Equal(t, 1, target.pushed)
}

func TestEngine_OnlyPendingRecordsSync(t *testing.T) {
	s := store.NewMemoryStore()
	log := audit.NewMemoryLog()
	ctx := context.Background()

	engine := NewEngine(s, &scriptedTarget{}, log, logger.New("debug"), time.Second)

	record := createPending(t, s, "PAT-111111-AAA")
	_, err := engine.SyncRecord(ctx, record.ID, testActor(), nil)
	require.NoError(t, err)

	// Synced records are terminal.
	_, err = engine.SyncRecord(ctx, record.ID, testActor(), nil)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestEngine_RetrySyncRequiresErroredRecord(t *testing.T) {
	s := store.NewMemoryStore()
	log := audit.NewMemoryLog()
	ctx := context.Background()

	engine := NewEngine(s, &scriptedTarget{}, log, logger.New("debug"), time.Second)

	record := createPending(t, s, "PAT-111111-AAA")

	_, err := engine.RetrySync(ctx, record.ID, testActor(), nil)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestEngine_SyncAllPendingIndependentOutcomes(t *testing.T) {
	s := store.NewMemoryStore()
	log := audit.NewMemoryLog()
	target := &scriptedTarget{failures: map[string]error{
		"PAT-222222-BBB": fmt.Errorf("validation rejected"),
		"PAT-444444-DDD": fmt.Errorf("network unreachable"),
	}}
	ctx := context.Background()

	engine := NewEngine(s, target, log, logger.New("debug"), time.Second, WithWorkers(2))

	ids := []string{"PAT-111111-AAA", "PAT-222222-BBB", "PAT-333333-CCC", "PAT-444444-DDD", "PAT-555555-EEE"}
	for _, pid := range ids {
		createPending(t, s, pid)
	}

	summary, err := engine.SyncAllPending(ctx, testActor(), nil)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Attempted)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Results, 5)

	// The two failures stay retryable; the rest are synced.
	records, err := s.List(ctx)
	require.NoError(t, err)
	var synced, errored int
	for _, record := range records {
		switch record.SyncStatus {
		case types.SyncStatusSynced:
			synced++
			assert.NotEmpty(t, record.ExternalRecordID)
		case types.SyncStatusError:
			errored++
			assert.Empty(t, record.ExternalRecordID)
		}
	}
	assert.Equal(t, 3, synced)
	assert.Equal(t, 2, errored)

	// Every attempt, pass or fail, is audited.
	entries, err := log.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestEngine_SyncAllPendingEmpty(t *testing.T) {
	s := store.NewMemoryStore()
	engine := NewEngine(s, &scriptedTarget{}, audit.NewMemoryLog(), logger.New("debug"), time.Second)

	summary, err := engine.SyncAllPending(context.Background(), testActor(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Attempted)
	assert.Empty(t, summary.Results)
}

func TestHTTPTarget_Push(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "/api/records", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"record_id":"EXT-99"}`)
	}))
	defer server.Close()

	target := NewHTTPTarget(server.URL, "test-token", time.Second)

	externalID, err := target.Push(context.Background(), &types.PatientRecord{
		PatientID: "PAT-111111-AAA",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, "EXT-99", externalID)
	assert.True(t, target.Healthy(context.Background()))
}

func TestHTTPTarget_PushServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	target := NewHTTPTarget(server.URL, "test-token", time.Second)

	_, err := target.Push(context.Background(), &types.PatientRecord{PatientID: "PAT-111111-AAA"})
	require.Error(t, err)
	assert.True(t, types.IsSync(err))
}
