package rcm

import "errors"

// Error kinds surfaced by the core. Callers match these with errors.Is; the
// concrete error usually wraps one of them with context.
var (
	// ErrNotFound means a referenced entity or file is absent.
	ErrNotFound = errors.New("not found")

	// ErrInUse means a deletion was refused because a dependent entity
	// still references the target. Never swallowed; always surfaced.
	ErrInUse = errors.New("in use")

	// ErrConflict means a uniqueness constraint fired. The caller may
	// retry by reading the conflicting row.
	ErrConflict = errors.New("conflict")

	// ErrDataInconsistency means an invariant was violated at read time,
	// e.g. a checksum was selected but no source supplies it. Pipelines
	// log it loudly and skip the offending item.
	ErrDataInconsistency = errors.New("data inconsistency")

	// ErrCancelled means the sync engine observed the cancellation signal.
	ErrCancelled = errors.New("cancelled")

	// ErrSyncRunning means a sync invocation was refused because one is
	// already in progress. Benign; the caller simply does nothing.
	ErrSyncRunning = errors.New("sync already running")
)
