package domain

import (
	"context"
	"io"
	"time"
)

// RateLimiter throttles API callers and outbound notifications by key.
type RateLimiter interface {
	// Allow records one hit on key and reports whether it fits in limit
	// hits per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until key has room under the limiter's default budget.
	Wait(ctx context.Context, key string) error
}

// LockManager hands out the writer lease. Only the lease owner may mutate
// the ledger; other instances follow the event bus.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Extend pushes out the TTL of a lock this manager currently holds. It
	// returns ErrLockLost when the lock expired or changed hands.
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// StreamMessage is one entry of the retained event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries committed events between instances: a fire-and-forget
// channel for live fan-out and a trimmed stream for catch-up.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads snapshots and event archives.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads them back. Get fails with ErrNotFound for a missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves events older than a cutoff out of the event log.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotStore keeps serialized ledger snapshots. LatestSnapshot returns
// ErrNotFound before the first save.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, data []byte, at time.Time) (string, error)
	LatestSnapshot(ctx context.Context) ([]byte, error)
}
