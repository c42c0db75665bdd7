// Package postgres persists processed transcript results in PostgreSQL.
//
// Persistence is optional: when no DSN is configured the pipeline runs
// entirely in memory and nothing in this package is used. Stored rows keep
// the complete audit trail (turns with provenance-annotated tokens,
// correction events, safety flags) as JSONB, so any stored result can be
// re-inspected or replayed later.
package postgres

import "context"

// Store provides persistence operations for processed transcript results.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save creates or replaces the stored result for its transcript ID.
	Save(ctx context.Context, rec *Record) error

	// Get retrieves a stored result by transcript ID. Returns (nil, nil) if
	// not found.
	Get(ctx context.Context, transcriptID string) (*Record, error)

	// List returns summaries of stored results, most recent first. limit <= 0
	// means no limit.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Delete removes a stored result by transcript ID. Deleting a
	// non-existent result is not an error.
	Delete(ctx context.Context, transcriptID string) error
}
