package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// EventStore implements domain.EventStore and doubles as an engine sink.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `seq, id, name, operation, payload, occurred_at`

func scanEventRows(rows pgx.Rows) ([]domain.EventRecord, error) {
	var out []domain.EventRecord
	for rows.Next() {
		var r domain.EventRecord
		if err := rows.Scan(&r.Seq, &r.ID, &r.Name, &r.Operation, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Append inserts records in one batch. Records already stored (same seq)
// are skipped, so a replayed batch is harmless.
func (s *EventStore) Append(ctx context.Context, records []domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	const query = `
		INSERT INTO events (seq, id, name, operation, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (seq) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query, int64(r.Seq), r.ID, r.Name, r.Operation, []byte(r.Payload), r.Timestamp)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append event %d: %w", r.Seq, err)
		}
	}
	return nil
}

// List returns events in sequence order after filter.AfterSeq.
func (s *EventStore) List(ctx context.Context, filter domain.EventFilter) ([]domain.EventRecord, error) {
	q := newSelect(`SELECT `+eventSelectCols+` FROM events`).where("seq > ?", int64(filter.AfterSeq))
	if filter.Name != "" {
		q.where("name = ?", filter.Name)
	}
	query, args := q.window("occurred_at", filter.ListOpts).build("seq ASC", filter.ListOpts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	out, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return out, nil
}

// ListBefore returns every event that occurred strictly before the cutoff.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM events WHERE occurred_at < $1 ORDER BY seq ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	out, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return out, nil
}

// DeleteBefore removes archived events up to and including seq that
// occurred before the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time, maxSeq uint64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE occurred_at < $1 AND seq <= $2`, before, int64(maxSeq))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LastSeq returns the highest stored sequence number, or 0.
func (s *EventStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: last event seq: %w", err)
	}
	return uint64(seq), nil
}

func (s *EventStore) Name() string { return "postgres" }

// HandleEvents implements domain.EventSink.
func (s *EventStore) HandleEvents(ctx context.Context, records []domain.EventRecord) error {
	return s.Append(ctx, records)
}

var (
	_ domain.EventStore = (*EventStore)(nil)
	_ domain.EventSink  = (*EventStore)(nil)
)
