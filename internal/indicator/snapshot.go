package indicator

import (
	"encoding/json"
	"fmt"
	"time"

	"sniperbot/internal/model"
)

const snapshotVersion = 1

// Snapshot holds the serialized candle window of one engine.
// The window is the engine's only state, so restoring it reproduces every
// indicator value exactly.
type Snapshot struct {
	Symbol  string         `json:"symbol"`
	Candles []model.Candle `json:"candles"`
	TakenAt int64          `json:"taken_at"`
	Version int            `json:"version"` // schema version for forward compat
}

// Snapshot captures the current window for symbol.
func (e *Engine) Snapshot(symbol string) *Snapshot {
	return &Snapshot{
		Symbol:  symbol,
		Candles: e.Candles(),
		TakenAt: time.Now().UnixMilli(),
		Version: snapshotVersion,
	}
}

// Restore replaces the window with the snapshot's candles.
// Candles beyond the engine's capacity are evicted oldest first.
func (e *Engine) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("restore: unsupported snapshot version %d", snap.Version)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles = e.candles[:0]
	for _, c := range snap.Candles {
		e.push(c)
	}
	return nil
}

// Encode serializes the snapshot to JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a snapshot previously produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}
