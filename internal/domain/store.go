package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventFilter narrows event queries.
type EventFilter struct {
	Name     string
	AfterSeq uint64
	ListOpts
}

// EventStore persists the committed event log.
type EventStore interface {
	Append(ctx context.Context, records []EventRecord) error
	List(ctx context.Context, filter EventFilter) ([]EventRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]EventRecord, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// AuditEntry is a single row from the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// EventSink receives committed events after an operation releases the
// ledger. Sink failures never undo the operation.
type EventSink interface {
	Name() string
	HandleEvents(ctx context.Context, records []EventRecord) error
}
