package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/patient-registry/pkg/types"
)

func appendEntry(t *testing.T, log *MemoryLog, actor string, action types.AuditAction, entityType types.EntityType) *types.AuditEntry {
	t.Helper()
	entry := &types.AuditEntry{
		ActorEmail: actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   "id-1",
	}
	require.NoError(t, log.Append(context.Background(), entry))
	return entry
}

func TestMemoryLog_AppendAssignsMonotonicIDs(t *testing.T) {
	log := NewMemoryLog()

	first := appendEntry(t, log, "a@clinic.org", types.ActionCreatePatient, types.EntityPatient)
	second := appendEntry(t, log, "a@clinic.org", types.ActionSyncPatient, types.EntityPatient)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.False(t, first.Timestamp.IsZero())
}

func TestMemoryLog_AppendedEntriesAreImmutable(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	entry := &types.AuditEntry{
		ActorEmail: "a@clinic.org",
		Action:     types.ActionUpdatePatient,
		EntityType: types.EntityPatient,
		Changes: map[string]types.FieldChange{
			"diagnosis": {From: "A", To: "B"},
		},
	}
	require.NoError(t, log.Append(ctx, entry))

	// Mutating the caller's map must not affect the stored entry.
	entry.Changes["diagnosis"] = types.FieldChange{From: "X", To: "Y"}

	entries, err := log.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].Changes["diagnosis"].From)
}

func TestMemoryLog_QueriedEntriesAreCopies(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	entry := &types.AuditEntry{
		ActorEmail: "a@clinic.org",
		Action:     types.ActionUpdatePatient,
		EntityType: types.EntityPatient,
		Changes: map[string]types.FieldChange{
			"diagnosis": {From: "A", To: "B"},
		},
	}
	require.NoError(t, log.Append(ctx, entry))

	// Mutating a queried entry's change map must not corrupt the log.
	queried, err := log.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, queried, 1)
	queried[0].Changes["diagnosis"] = types.FieldChange{From: "X", To: "Y"}
	queried[0].ActorEmail = "tampered@clinic.org"

	entries, err := log.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].Changes["diagnosis"].From)
	assert.Equal(t, "a@clinic.org", entries[0].ActorEmail)
}

func TestMemoryLog_QueryNewestFirst(t *testing.T) {
	log := NewMemoryLog()

	appendEntry(t, log, "a@clinic.org", types.ActionCreatePatient, types.EntityPatient)
	appendEntry(t, log, "a@clinic.org", types.ActionUpdatePatient, types.EntityPatient)
	appendEntry(t, log, "a@clinic.org", types.ActionSyncPatient, types.EntityPatient)

	entries, err := log.Query(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(3), entries[0].ID)
	assert.Equal(t, int64(1), entries[2].ID)
}

func TestMemoryLog_QueryConjunctiveFilters(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	appendEntry(t, log, "alice@clinic.org", types.ActionCreatePatient, types.EntityPatient)
	appendEntry(t, log, "bob@clinic.org", types.ActionCreatePatient, types.EntityPatient)
	appendEntry(t, log, "alice@clinic.org", types.ActionCreateUser, types.EntityUser)

	entries, err := log.Query(ctx, &types.AuditFilter{
		Action:     types.ActionCreatePatient,
		ActorEmail: "ALICE",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice@clinic.org", entries[0].ActorEmail)
	assert.Equal(t, types.ActionCreatePatient, entries[0].Action)
}

func TestMemoryLog_QueryDateRange(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	old := &types.AuditEntry{
		ActorEmail: "a@clinic.org",
		Action:     types.ActionCreatePatient,
		EntityType: types.EntityPatient,
		Timestamp:  time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, log.Append(ctx, old))
	appendEntry(t, log, "a@clinic.org", types.ActionSyncPatient, types.EntityPatient)

	entries, err := log.Query(ctx, &types.AuditFilter{
		From: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.ActionSyncPatient, entries[0].Action)
}

func TestMemoryLog_QueryLimitOffset(t *testing.T) {
	log := NewMemoryLog()

	for i := 0; i < 5; i++ {
		appendEntry(t, log, "a@clinic.org", types.ActionCreatePatient, types.EntityPatient)
	}

	entries, err := log.Query(context.Background(), &types.AuditFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].ID)
	assert.Equal(t, int64(3), entries[1].ID)

	entries, err = log.Query(context.Background(), &types.AuditFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryLog_Stats(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	appendEntry(t, log, "alice@clinic.org", types.ActionCreatePatient, types.EntityPatient)
	appendEntry(t, log, "alice@clinic.org", types.ActionSyncPatient, types.EntityPatient)
	appendEntry(t, log, "bob@clinic.org", types.ActionCreateUser, types.EntityUser)

	old := &types.AuditEntry{
		ActorEmail: "bob@clinic.org",
		Action:     types.ActionCreatePatient,
		EntityType: types.EntityPatient,
		Timestamp:  time.Now().UTC().Add(-8 * 24 * time.Hour),
	}
	require.NoError(t, log.Append(ctx, old))

	stats, err := log.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TotalEntries)
	assert.Equal(t, int64(2), stats.Actions["CREATE_PATIENT"])
	assert.Equal(t, int64(2), stats.Actors["alice@clinic.org"])
	assert.Equal(t, int64(3), stats.EntityTypes["patient"])
	assert.Equal(t, int64(3), stats.Last24h)
	assert.Equal(t, int64(3), stats.Last7d)
}
