package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

const snapshotVersion = 1

// snapshot is the persisted form of a ledger. Timestamps encode as RFC 3339
// with zone offset.
type snapshot struct {
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
	Open      []Position    `json:"open"`
	Closed    []ClosedTrade `json:"closed"`
	Events    []Event       `json:"events"`
}

func encodeSnapshot(st state, now time.Time) ([]byte, error) {
	snap := snapshot{
		Version:   snapshotVersion,
		UpdatedAt: now,
		Open:      sortedPositions(st.open),
		Closed:    st.closed,
		Events:    st.events,
	}
	if snap.Closed == nil {
		snap.Closed = []ClosedTrade{}
	}
	if snap.Events == nil {
		snap.Events = []Event{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding ledger snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (state, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return state{}, fmt.Errorf("decoding ledger snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return state{}, fmt.Errorf("unsupported ledger snapshot version %d", snap.Version)
	}

	st := state{
		open:   make(map[string]Position, len(snap.Open)),
		closed: snap.Closed,
		events: snap.Events,
	}
	for _, p := range snap.Open {
		if _, dup := st.open[p.Symbol]; dup {
			return state{}, fmt.Errorf("ledger snapshot has two open positions for %s", p.Symbol)
		}
		st.open[p.Symbol] = p
	}
	return st, nil
}
