// Package state holds the ledger's in-memory state containers. Every
// mutation is recorded in a Journal so an operation can be reverted as a
// whole, the same way an EVM state journal unwinds a failed call.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Snapshotter is implemented by containers that can be exported and
// restored as JSON.
type Snapshotter interface {
	MarshalState() (json.RawMessage, error)
	UnmarshalState(raw json.RawMessage) error
}

// Revision marks a point in the journal that RevertTo can return to.
type Revision struct {
	undo int
	logs int
}

// Journal records undo closures and pending events. It is not safe for
// concurrent use; the engine serializes access.
type Journal struct {
	undo    []func()
	logs    []domain.Event
	tracked map[string]Snapshotter
	names   []string
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{tracked: make(map[string]Snapshotter)}
}

func (j *Journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

// Emit queues an event. It is dropped if the operation reverts.
func (j *Journal) Emit(ev domain.Event) {
	j.logs = append(j.logs, ev)
}

// Snapshot returns the current revision.
func (j *Journal) Snapshot() Revision {
	return Revision{undo: len(j.undo), logs: len(j.logs)}
}

// RevertTo undoes every mutation recorded after rev, newest first.
func (j *Journal) RevertTo(rev Revision) {
	for i := len(j.undo) - 1; i >= rev.undo; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:rev.undo]
	j.logs = j.logs[:rev.logs]
}

// Commit forgets the undo history and hands back the pending events.
func (j *Journal) Commit() []domain.Event {
	events := j.logs
	j.undo = j.undo[:0]
	j.logs = nil
	return events
}

// Dirty reports whether uncommitted mutations exist.
func (j *Journal) Dirty() bool {
	return len(j.undo) > 0 || len(j.logs) > 0
}

func (j *Journal) track(name string, s Snapshotter) {
	if _, dup := j.tracked[name]; dup {
		panic(fmt.Sprintf("state: container %q registered twice", name))
	}
	j.tracked[name] = s
	j.names = append(j.names, name)
}

// Export serializes every tracked container.
func (j *Journal) Export() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(j.names))
	for _, name := range j.names {
		raw, err := j.tracked[name].MarshalState()
		if err != nil {
			return nil, fmt.Errorf("state: export %s: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}

// Import restores tracked containers from an export. Containers missing
// from the export keep their current contents. Import must not run while an
// operation is in flight.
func (j *Journal) Import(data map[string]json.RawMessage) error {
	if j.Dirty() {
		return fmt.Errorf("state: import with uncommitted changes")
	}
	for name, raw := range data {
		s, ok := j.tracked[name]
		if !ok {
			return fmt.Errorf("state: import: unknown container %q", name)
		}
		if err := s.UnmarshalState(raw); err != nil {
			return fmt.Errorf("state: import %s: %w", name, err)
		}
	}
	return nil
}
