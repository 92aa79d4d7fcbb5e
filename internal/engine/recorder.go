package engine

import (
	"context"
	"sync"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Recorder is an in-memory EventSink keeping the most recent records.
type Recorder struct {
	mu      sync.RWMutex
	records []domain.EventRecord
	limit   int
}

// NewRecorder keeps at most limit records; limit <= 0 keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) HandleEvents(_ context.Context, records []domain.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	if r.limit > 0 && len(r.records) > r.limit {
		r.records = append([]domain.EventRecord(nil), r.records[len(r.records)-r.limit:]...)
	}
	return nil
}

// Records returns the recorded events, oldest first, optionally filtered by
// name.
func (r *Recorder) Records(name string) []domain.EventRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EventRecord, 0, len(r.records))
	for _, rec := range r.records {
		if name == "" || rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

// Last returns the most recent event named name.
func (r *Recorder) Last(name string) (domain.EventRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Name == name {
			return r.records[i], true
		}
	}
	return domain.EventRecord{}, false
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.records = nil
	r.mu.Unlock()
}

// List serves the same filter as the persistent event store over the
// in-memory buffer. Time bounds apply to record timestamps.
func (r *Recorder) List(_ context.Context, filter domain.EventFilter) ([]domain.EventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EventRecord, 0)
	skipped := 0
	for _, rec := range r.records {
		if rec.Seq <= filter.AfterSeq {
			continue
		}
		if filter.Name != "" && rec.Name != filter.Name {
			continue
		}
		if filter.Since != nil && rec.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && rec.Timestamp.After(*filter.Until) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
