package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hmorven/clarivox/pkg/dialogue"
)

// Schema is the SQL DDL for the transcript_results table. Execute it via
// [ResultStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcript_results (
    transcript_id    TEXT PRIMARY KEY,
    turns            JSONB NOT NULL DEFAULT '[]',
    events           JSONB NOT NULL DEFAULT '[]',
    flags            JSONB NOT NULL DEFAULT '[]',
    turn_count       INT NOT NULL DEFAULT 0,
    degraded_turns   INT NOT NULL DEFAULT 0,
    correction_count INT NOT NULL DEFAULT 0,
    flag_count       INT NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_results_flagged ON transcript_results(flag_count) WHERE flag_count > 0;
CREATE INDEX IF NOT EXISTS idx_transcript_results_created ON transcript_results(created_at);
`

// Record is a stored processing result with its persistence timestamps.
type Record struct {
	Result    dialogue.Result
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is a stored result's row without the JSONB payload, for listings.
type Summary struct {
	TranscriptID string
	TurnCount    int
	Degraded     int
	Corrections  int
	Flags        int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DB is the database interface used by [ResultStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ResultStore is a [Store] backed by a PostgreSQL database. The per-turn
// payload is serialised as JSONB; counters are materialised into columns so
// listings and flag queries never parse the payload.
type ResultStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*ResultStore)(nil)

// NewResultStore creates a new [ResultStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [ResultStore.Migrate] to ensure the schema exists before issuing queries.
func NewResultStore(db DB) *ResultStore {
	return &ResultStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// transcript_results table and indexes if they do not already exist.
func (s *ResultStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("resultstore: migrate: %w", err)
	}
	return nil
}

// Save creates or replaces the stored result for rec's transcript ID and
// refreshes rec's timestamps from the database.
func (s *ResultStore) Save(ctx context.Context, rec *Record) error {
	if rec.Result.TranscriptID == "" {
		return errors.New("resultstore: save: result has no transcript ID")
	}

	turnsJSON, eventsJSON, flagsJSON, err := marshalPayload(&rec.Result)
	if err != nil {
		return err
	}

	degraded := 0
	for _, turn := range rec.Result.Turns {
		if turn.Degraded {
			degraded++
		}
	}

	const query = `
		INSERT INTO transcript_results (
			transcript_id, turns, events, flags,
			turn_count, degraded_turns, correction_count, flag_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (transcript_id) DO UPDATE SET
			turns = EXCLUDED.turns,
			events = EXCLUDED.events,
			flags = EXCLUDED.flags,
			turn_count = EXCLUDED.turn_count,
			degraded_turns = EXCLUDED.degraded_turns,
			correction_count = EXCLUDED.correction_count,
			flag_count = EXCLUDED.flag_count,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		rec.Result.TranscriptID, turnsJSON, eventsJSON, flagsJSON,
		len(rec.Result.Turns), degraded, len(rec.Result.Events), len(rec.Result.Flags),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("resultstore: save %q: %w", rec.Result.TranscriptID, err)
	}
	return nil
}

// Get retrieves a stored result by transcript ID. It returns (nil, nil) if
// no result with the given ID exists.
func (s *ResultStore) Get(ctx context.Context, transcriptID string) (*Record, error) {
	const query = `
		SELECT transcript_id, turns, events, flags, created_at, updated_at
		FROM transcript_results
		WHERE transcript_id = $1`

	var rec Record
	var turnsJSON, eventsJSON, flagsJSON []byte

	err := s.db.QueryRow(ctx, query, transcriptID).Scan(
		&rec.Result.TranscriptID, &turnsJSON, &eventsJSON, &flagsJSON,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("resultstore: get %q: %w", transcriptID, err)
	}

	if err := unmarshalPayload(&rec.Result, turnsJSON, eventsJSON, flagsJSON); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns summaries of stored results ordered by creation time, most
// recent first. limit <= 0 returns all rows.
func (s *ResultStore) List(ctx context.Context, limit int) ([]Summary, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit <= 0 {
		const query = `
			SELECT transcript_id, turn_count, degraded_turns,
			       correction_count, flag_count, created_at, updated_at
			FROM transcript_results
			ORDER BY created_at DESC`
		rows, err = s.db.Query(ctx, query)
	} else {
		const query = `
			SELECT transcript_id, turn_count, degraded_turns,
			       correction_count, flag_count, created_at, updated_at
			FROM transcript_results
			ORDER BY created_at DESC
			LIMIT $1`
		rows, err = s.db.Query(ctx, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("resultstore: list: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(
			&sum.TranscriptID, &sum.TurnCount, &sum.Degraded,
			&sum.Corrections, &sum.Flags, &sum.CreatedAt, &sum.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("resultstore: list scan: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resultstore: list: %w", err)
	}
	return summaries, nil
}

// Delete removes a stored result by transcript ID. Deleting a non-existent
// result is not an error.
func (s *ResultStore) Delete(ctx context.Context, transcriptID string) error {
	const query = `DELETE FROM transcript_results WHERE transcript_id = $1`
	_, err := s.db.Exec(ctx, query, transcriptID)
	if err != nil {
		return fmt.Errorf("resultstore: delete %q: %w", transcriptID, err)
	}
	return nil
}

// marshalPayload serialises the JSONB columns. Nil slices are stored as "[]"
// so stored payloads never contain JSON null.
func marshalPayload(res *dialogue.Result) (turns, events, flags []byte, err error) {
	turns, err = json.Marshal(emptyTurns(res.Turns))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resultstore: marshal turns: %w", err)
	}
	events, err = json.Marshal(emptyEvents(res.Events))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resultstore: marshal events: %w", err)
	}
	flags, err = json.Marshal(emptyFlags(res.Flags))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resultstore: marshal flags: %w", err)
	}
	return turns, events, flags, nil
}

// unmarshalPayload deserialises the JSONB columns into the result.
func unmarshalPayload(res *dialogue.Result, turns, events, flags []byte) error {
	if err := json.Unmarshal(turns, &res.Turns); err != nil {
		return fmt.Errorf("resultstore: unmarshal turns: %w", err)
	}
	if err := json.Unmarshal(events, &res.Events); err != nil {
		return fmt.Errorf("resultstore: unmarshal events: %w", err)
	}
	if err := json.Unmarshal(flags, &res.Flags); err != nil {
		return fmt.Errorf("resultstore: unmarshal flags: %w", err)
	}
	return nil
}

func emptyTurns(s []dialogue.Turn) []dialogue.Turn {
	if s == nil {
		return []dialogue.Turn{}
	}
	return s
}

func emptyEvents(s []dialogue.CorrectionEvent) []dialogue.CorrectionEvent {
	if s == nil {
		return []dialogue.CorrectionEvent{}
	}
	return s
}

func emptyFlags(s []dialogue.SafetyFlag) []dialogue.SafetyFlag {
	if s == nil {
		return []dialogue.SafetyFlag{}
	}
	return s
}
