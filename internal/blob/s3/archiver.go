package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// EventArchiveStore is the slice of the event store the archiver uses.
type EventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.EventRecord, error)
	DeleteBefore(ctx context.Context, before time.Time, maxSeq uint64) (int64, error)
}

// EventArchiver implements domain.Archiver: old events are written to
// archive/events/YYYY-MM/<first>-<last>.jsonl, recorded in the audit log,
// and only then pruned from the primary store.
type EventArchiver struct {
	writer domain.BlobWriter
	events EventArchiveStore
	audit  domain.AuditStore
}

func NewEventArchiver(writer domain.BlobWriter, events EventArchiveStore, audit domain.AuditStore) *EventArchiver {
	return &EventArchiver{writer: writer, events: events, audit: audit}
}

// ArchiveEvents archives and prunes every event before the cutoff and
// returns how many were archived.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	first, last := records[0].Seq, records[len(records)-1].Seq
	path := archivePath("events", before, first, last)
	if err := upload(ctx, a.writer, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"path":     path,
			"count":    count,
			"firstSeq": first,
			"lastSeq":  last,
			"before":   before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
		}
	}

	if _, err := a.events.DeleteBefore(ctx, before, last); err != nil {
		return count, fmt.Errorf("s3blob: prune archived events: %w", err)
	}
	return count, nil
}

// archivePath partitions by cutoff month and names the sequence range, e.g.
// archive/events/2025-01/000000000001-000000000420.jsonl.
func archivePath(kind string, before time.Time, first, last uint64) string {
	return fmt.Sprintf("archive/%s/%s/%012d-%012d.jsonl", kind, before.UTC().Format("2006-01"), first, last)
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*EventArchiver)(nil)
