package types

import "time"

// AuditAction identifies the kind of state-changing action an audit
// entry records
type AuditAction string

const (
	ActionCreatePatient    AuditAction = "CREATE_PATIENT"
	ActionUpdatePatient    AuditAction = "UPDATE_PATIENT"
	ActionSyncPatient      AuditAction = "SYNC_PATIENT"
	ActionCreateUser       AuditAction = "CREATE_USER"
	ActionToggleUserStatus AuditAction = "TOGGLE_USER_STATUS"
)

// EntityType identifies the kind of entity an audit entry refers to
type EntityType string

const (
	EntityPatient EntityType = "patient"
	EntityUser    EntityType = "user"
)

// FieldChange captures a single field transition. A nil From denotes
// field creation.
type FieldChange struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// AuditEntry is an immutable record of a single state-changing action.
// Entries are assigned monotonically increasing IDs on append and are
// never modified afterwards.
type AuditEntry struct {
	ID          int64                  `json:"id" db:"id"`
	ActorEmail  string                 `json:"actor_email" db:"actor_email"`
	Action      AuditAction            `json:"action" db:"action"`
	EntityType  EntityType             `json:"entity_type" db:"entity_type"`
	EntityID    string                 `json:"entity_id" db:"entity_id"`
	EntityLabel string                 `json:"entity_label" db:"entity_label"`
	Changes     map[string]FieldChange `json:"changes" db:"changes"`
	Timestamp   time.Time              `json:"timestamp" db:"timestamp"`
	IPAddress   string                 `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   string                 `json:"user_agent,omitempty" db:"user_agent"`
}

// AuditFilter narrows an audit log query. All fields are optional and
// combine with AND semantics.
type AuditFilter struct {
	Action     AuditAction `json:"action,omitempty"`
	ActorEmail string      `json:"actor_email,omitempty"`
	EntityType EntityType  `json:"entity_type,omitempty"`
	From       time.Time   `json:"from,omitempty"`
	To         time.Time   `json:"to,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}

// AuditStats aggregates audit log activity
type AuditStats struct {
	TotalEntries int64            `json:"total_entries"`
	Actions      map[string]int64 `json:"actions"`
	Actors       map[string]int64 `json:"actors"`
	EntityTypes  map[string]int64 `json:"entity_types"`
	Last24h      int64            `json:"last_24h"`
	Last7d       int64            `json:"last_7d"`
}

// RequestMeta carries the request-scoped context recorded on audit
// entries
type RequestMeta struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}
