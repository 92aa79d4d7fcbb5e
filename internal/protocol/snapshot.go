package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the serialized ledger.
type Snapshot struct {
	Sequence uint64                     `json:"sequence"`
	TakenAt  time.Time                  `json:"takenAt"`
	State    map[string]json.RawMessage `json:"state"`
}

// Snapshot serializes the ledger.
func (p *Protocol) Snapshot(now time.Time) ([]byte, error) {
	seq, data, err := p.Engine.Export()
	if err != nil {
		return nil, fmt.Errorf("protocol: snapshot: %w", err)
	}
	return json.Marshal(Snapshot{Sequence: seq, TakenAt: now.UTC(), State: data})
}

// Restore replaces the ledger with a snapshot taken from a deployment with
// the same parameters.
func (p *Protocol) Restore(raw []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("protocol: decode snapshot: %w", err)
	}
	if err := p.Engine.Import(s.Sequence, s.State); err != nil {
		return Snapshot{}, fmt.Errorf("protocol: restore: %w", err)
	}
	return s, nil
}
