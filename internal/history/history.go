// Package history is the append-only ledger of phase lifecycle events.
package history

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/boshu2/phasegate/internal/storage"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindStarted       Kind = "phase_started"
	KindEvaluated     Kind = "evaluated"
	KindAdvanced      Kind = "phase_advanced"
	KindCompleted     Kind = "plan_completed"
	KindScopeJustify  Kind = "scope_justified"
	KindLockRemoved   Kind = "lock_removed"
	KindManifestWrite Kind = "manifest_generated"
)

// Event is one ledger line.
type Event struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	PhaseID   string            `json:"phase_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Ledger appends to and reads a JSONL file.
type Ledger struct {
	Path string
	now  func() time.Time
}

// NewLedger returns a ledger backed by path.
func NewLedger(path string) *Ledger {
	return &Ledger{Path: path, now: time.Now}
}

// Append records an event and returns it.
func (l *Ledger) Append(kind Kind, phaseID string, detail map[string]string) (Event, error) {
	now := l.now
	if now == nil {
		now = time.Now
	}
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		PhaseID:   phaseID,
		Timestamp: now().UTC(),
		Detail:    detail,
	}
	return ev, storage.AppendJSONL(l.Path, ev)
}

// List returns events in append order. A non-empty phaseID keeps only that
// phase's events; limit > 0 keeps only the most recent limit.
func (l *Ledger) List(phaseID string, limit int) ([]Event, error) {
	var events []Event
	err := storage.ScanJSONL(l.Path, func(line []byte) error {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil
		}
		if phaseID == "" || ev.PhaseID == phaseID {
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}
