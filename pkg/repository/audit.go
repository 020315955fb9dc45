package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

// AuditRepository persists the append-only audit log. Entry IDs come
// from a BIGSERIAL column, so ordering by ID matches append order.
type AuditRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, log *logger.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: log,
	}
}

// Append writes an immutable audit entry. The database assigns the ID;
// the timestamp defaults to now when unset.
func (r *AuditRepository) Append(ctx context.Context, entry *types.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to marshal audit changes", err)
	}

	query := `
		INSERT INTO audit_entries (
			actor_email, action, entity_type, entity_id, entity_label,
			changes, timestamp, ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		entry.ActorEmail,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.EntityLabel,
		changesJSON,
		entry.Timestamp,
		entry.IPAddress,
		entry.UserAgent,
	).Scan(&entry.ID)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to append audit entry", err)
	}

	return nil
}

// Query returns entries matching the filter, newest first. All filter
// fields combine with AND semantics; actor matching is a
// case-insensitive substring match.
func (r *AuditRepository) Query(ctx context.Context, filter *types.AuditFilter) ([]*types.AuditEntry, error) {
	query := `
		SELECT id, actor_email, action, entity_type, entity_id, entity_label,
			   changes, timestamp, ip_address, user_agent
		FROM audit_entries
		WHERE 1=1`

	args := []interface{}{}
	argIndex := 1

	if filter != nil {
		if filter.Action != "" {
			query += fmt.Sprintf(" AND action = $%d", argIndex)
			args = append(args, filter.Action)
			argIndex++
		}
		if filter.ActorEmail != "" {
			query += fmt.Sprintf(" AND actor_email ILIKE $%d", argIndex)
			args = append(args, "%"+filter.ActorEmail+"%")
			argIndex++
		}
		if filter.EntityType != "" {
			query += fmt.Sprintf(" AND entity_type = $%d", argIndex)
			args = append(args, filter.EntityType)
			argIndex++
		}
		if !filter.From.IsZero() {
			query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
			args = append(args, filter.From)
			argIndex++
		}
		if !filter.To.IsZero() {
			query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
			args = append(args, filter.To)
			argIndex++
		}
	}

	query += " ORDER BY id DESC"

	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter != nil && filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to query audit entries", err)
	}
	defer rows.Close()

	var entries []*types.AuditEntry
	for rows.Next() {
		var entry types.AuditEntry
		var changesJSON []byte
		var ipAddress, userAgent sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.ActorEmail,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&entry.EntityLabel,
			&changesJSON,
			&entry.Timestamp,
			&ipAddress,
			&userAgent,
		)
		if err != nil {
			return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to scan audit entry", err)
		}

		if len(changesJSON) > 0 {
			if err := json.Unmarshal(changesJSON, &entry.Changes); err != nil {
				return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to unmarshal audit changes", err)
			}
		}
		entry.IPAddress = ipAddress.String
		entry.UserAgent = userAgent.String

		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "error iterating audit rows", err)
	}

	return entries, nil
}

// Stats aggregates activity across the whole log
func (r *AuditRepository) Stats(ctx context.Context) (*types.AuditStats, error) {
	stats := &types.AuditStats{
		Actions:     make(map[string]int64),
		Actors:      make(map[string]int64),
		EntityTypes: make(map[string]int64),
	}

	now := time.Now().UTC()
	query := `
		SELECT COUNT(*),
			   COUNT(*) FILTER (WHERE timestamp >= $1),
			   COUNT(*) FILTER (WHERE timestamp >= $2)
		FROM audit_entries`
	err := r.db.QueryRowContext(ctx, query,
		now.Add(-24*time.Hour), now.Add(-7*24*time.Hour)).
		Scan(&stats.TotalEntries, &stats.Last24h, &stats.Last7d)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to aggregate audit totals", err)
	}

	groups := []struct {
		column string
		dest   map[string]int64
	}{
		{"action", stats.Actions},
		{"actor_email", stats.Actors},
		{"entity_type", stats.EntityTypes},
	}

	for _, group := range groups {
		groupQuery := fmt.Sprintf(
			"SELECT %s, COUNT(*) FROM audit_entries GROUP BY %s", group.column, group.column)
		rows, err := r.db.QueryContext(ctx, groupQuery)
		if err != nil {
			return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to aggregate audit groups", err)
		}

		for rows.Next() {
			var key string
			var count int64
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to scan audit group", err)
			}
			group.dest[key] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, types.NewInternalError(types.ErrCodeInternalError, "error iterating audit groups", err)
		}
		rows.Close()
	}

	return stats, nil
}
