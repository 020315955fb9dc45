// Package audit provides the in-memory audit log. It mirrors the
// PostgreSQL-backed audit repository: append-only, monotonically
// increasing IDs, conjunctive query filters, newest-first ordering.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/clinsync/patient-registry/pkg/types"
)

// MemoryLog is an in-memory append-only audit log
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*types.AuditEntry
	nextID  int64
}

// NewMemoryLog creates an empty in-memory audit log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{nextID: 1}
}

// Append writes an immutable entry, assigning the next ID and stamping
// the timestamp when unset
func (l *MemoryLog) Append(ctx context.Context, entry *types.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.ID = l.nextID
	l.nextID++

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.entries = append(l.entries, copyEntry(entry))

	return nil
}

// Query returns entries matching the filter, newest first. Filters
// combine with AND semantics; actor matching is a case-insensitive
// substring match.
func (l *MemoryLog) Query(ctx context.Context, filter *types.AuditFilter) ([]*types.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*types.AuditEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		entry := l.entries[i]
		if !matches(entry, filter) {
			continue
		}
		matched = append(matched, copyEntry(entry))
	}

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(matched) {
				return nil, nil
			}
			matched = matched[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(matched) {
			matched = matched[:filter.Limit]
		}
	}

	return matched, nil
}

// Stats aggregates activity across the whole log
func (l *MemoryLog) Stats(ctx context.Context) (*types.AuditStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &types.AuditStats{
		Actions:     make(map[string]int64),
		Actors:      make(map[string]int64),
		EntityTypes: make(map[string]int64),
	}

	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	for _, entry := range l.entries {
		stats.TotalEntries++
		stats.Actions[string(entry.Action)]++
		stats.Actors[entry.ActorEmail]++
		stats.EntityTypes[string(entry.EntityType)]++

		if !entry.Timestamp.Before(dayAgo) {
			stats.Last24h++
		}
		if !entry.Timestamp.Before(weekAgo) {
			stats.Last7d++
		}
	}

	return stats, nil
}

// copyEntry deep-copies an entry including its Changes map so neither
// append-side nor query-side callers can mutate the stored log.
func copyEntry(entry *types.AuditEntry) *types.AuditEntry {
	copied := *entry
	if entry.Changes != nil {
		copied.Changes = make(map[string]types.FieldChange, len(entry.Changes))
		for field, change := range entry.Changes {
			copied.Changes[field] = change
		}
	}
	return &copied
}

func matches(entry *types.AuditEntry, filter *types.AuditFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.ActorEmail != "" &&
		!strings.Contains(strings.ToLower(entry.ActorEmail), strings.ToLower(filter.ActorEmail)) {
		return false
	}
	if filter.EntityType != "" && entry.EntityType != filter.EntityType {
		return false
	}
	if !filter.From.IsZero() && entry.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.Timestamp.After(filter.To) {
		return false
	}
	return true
}
