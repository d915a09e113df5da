package diffsync

import "errors"

var (
	// ErrInvalidEntity means the entity reference is missing its type
	// or id. Rejected before any state is touched.
	ErrInvalidEntity = errors.New("invalid entity reference")

	// ErrEmptyPatchList means a patch call carried no patches.
	ErrEmptyPatchList = errors.New("empty patch list")

	// ErrSessionNotFound means no active session exists for the
	// (entity, endpoint) pair; the caller must issue a start first.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBackupMissing means a version mismatch needed backup-based
	// recovery but no backup row exists. This is terminal for the
	// call; the session survives and a fresh start can heal it.
	ErrBackupMissing = errors.New("backup not available for recovery")

	// ErrDocumentMissing means the authoritative document vanished
	// mid-session, so the accepted patch cannot be merged forward.
	ErrDocumentMissing = errors.New("authoritative document not found")
)
