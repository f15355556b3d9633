package storage

import "errors"

// Sentinel errors for the storage package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrEmptyRecord is returned when a record file exists but has no content.
	ErrEmptyRecord = errors.New("empty record file")

	// ErrNoPath is returned when a write is attempted without a destination.
	ErrNoPath = errors.New("record has no path set")
)
