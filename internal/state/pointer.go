// Package state tracks which phase is current and gates advancement on the
// recorded verdict.
package state

import (
	"errors"
	"os"

	"github.com/boshu2/phasegate/internal/storage"
	"github.com/boshu2/phasegate/internal/types"
)

// PointerStore persists the current-phase pointer.
type PointerStore struct {
	Path string
}

// Load returns the pointer, or nil when no phase has ever started.
func (s PointerStore) Load() (*types.PhasePointer, error) {
	var ptr types.PhasePointer
	err := storage.ReadJSON(s.Path, &ptr)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, types.Wrap(types.KindPersistence, err, "read phase pointer")
	}
	return &ptr, nil
}

// Save replaces the pointer atomically.
func (s PointerStore) Save(ptr types.PhasePointer) error {
	if err := storage.WriteJSON(s.Path, ptr); err != nil {
		return types.Wrap(types.KindPersistence, err, "write phase pointer")
	}
	return nil
}
