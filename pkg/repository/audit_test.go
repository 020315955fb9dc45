package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

func setupAuditRepository(t *testing.T) (*AuditRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewAuditRepository(db, logger.New("debug"))

	cleanup := func() {
		db.Close()
	}

	return repo, mock, cleanup
}

func TestAuditRepository_Append(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	entry := &types.AuditEntry{
		ActorEmail:  "researcher@clinic.org",
		Action:      types.ActionCreatePatient,
		EntityType:  types.EntityPatient,
		EntityID:    "id-1",
		EntityLabel: "PAT-123456-ABC (Jane Doe)",
		Changes: map[string]types.FieldChange{
			"first_name": {From: nil, To: "Jane"},
		},
	}

	mock.ExpectQuery("INSERT INTO audit_entries").
		WithArgs(
			entry.ActorEmail,
			entry.Action,
			entry.EntityType,
			entry.EntityID,
			entry.EntityLabel,
			sqlmock.AnyArg(), // changes JSON
			sqlmock.AnyArg(), // timestamp
			"",
			"",
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	err := repo.Append(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, int64(7), entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_QueryWithFilters(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "actor_email", "action", "entity_type", "entity_id",
		"entity_label", "changes", "timestamp", "ip_address", "user_agent",
	}).AddRow(
		int64(9), "researcher@clinic.org", types.ActionSyncPatient,
		types.EntityPatient, "id-1", "PAT-123456-ABC (Jane Doe)",
		[]byte(`{"sync_status":{"from":"pending","to":"synced"}}`),
		now, "10.0.0.5", "test-agent",
	)

	mock.ExpectQuery("(?s)SELECT .+ FROM audit_entries\\s+WHERE 1=1 AND action = \\$1 AND actor_email ILIKE \\$2 ORDER BY id DESC").
		WithArgs(types.ActionSyncPatient, "%researcher%").
		WillReturnRows(rows)

	entries, err := repo.Query(context.Background(), &types.AuditFilter{
		Action:     types.ActionSyncPatient,
		ActorEmail: "researcher",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, int64(9), entries[0].ID)
	assert.Equal(t, "synced", entries[0].Changes["sync_status"].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_Stats(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	mock.ExpectQuery("(?s)SELECT COUNT\\(\\*\\),.+FROM audit_entries").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count", "last_24h", "last_7d"}).
			AddRow(int64(12), int64(3), int64(9)))

	mock.ExpectQuery("SELECT action, COUNT\\(\\*\\) FROM audit_entries GROUP BY action").
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).
			AddRow("CREATE_PATIENT", int64(8)).
			AddRow("SYNC_PATIENT", int64(4)))

	mock.ExpectQuery("SELECT actor_email, COUNT\\(\\*\\) FROM audit_entries GROUP BY actor_email").
		WillReturnRows(sqlmock.NewRows([]string{"actor_email", "count"}).
			AddRow("researcher@clinic.org", int64(12)))

	mock.ExpectQuery("SELECT entity_type, COUNT\\(\\*\\) FROM audit_entries GROUP BY entity_type").
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "count"}).
			AddRow("patient", int64(12)))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(12), stats.TotalEntries)
	assert.Equal(t, int64(3), stats.Last24h)
	assert.Equal(t, int64(9), stats.Last7d)
	assert.Equal(t, int64(8), stats.Actions["CREATE_PATIENT"])
	assert.Equal(t, int64(12), stats.Actors["researcher@clinic.org"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
