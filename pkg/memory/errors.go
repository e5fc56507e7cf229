package memory

import (
	"errors"
	"strings"
)

var (
	// ErrNotInitialized indicates schema creation failed on startup, including
	// the minimal fallback. Every subsequent call fails fast with this error
	// rather than accepting writes that cannot be durably persisted.
	ErrNotInitialized = errors.New("memory engine not initialized")

	// ErrNoRowsWritten indicates an insert reported success but affected zero
	// rows. Surfaced to the caller like any other write failure.
	ErrNoRowsWritten = errors.New("memory write affected zero rows")

	// ErrStatementMissing indicates a prepared statement was requested before
	// the cache was built. This is an initialization-order bug, not a
	// runtime condition.
	ErrStatementMissing = errors.New("prepared statement missing from cache")
)

// isBusy reports whether err is SQLite busy/locked contention, the only
// failure class the write path retries.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
