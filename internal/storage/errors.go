package storage

import "errors"

var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEnqueue means the probe image already has a non-terminal
	// queue entry.
	ErrDuplicateEnqueue = errors.New("image already enqueued")

	// ErrDuplicateImage means an identical image (by content hash) was
	// already uploaded.
	ErrDuplicateImage = errors.New("image already uploaded")

	// ErrConflict means a state transition lost to a concurrent writer or
	// targeted a terminal record. The record is unchanged.
	ErrConflict = errors.New("state conflict")

	// ErrIntegrity means a referential violation (for example a match
	// pointing at a missing probe image). Surfaced to operators, never
	// auto-healed.
	ErrIntegrity = errors.New("referential integrity violation")
)
