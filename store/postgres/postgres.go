/*
Package postgres provides a PostgreSQL-backed implementation of the recurrence stores.

PURPOSE:
  Same contract and schema as store/sqlite, in the PostgreSQL dialect. The
  database does the concurrency control, so there is no process-level mutex.

CONDITIONAL WRITES:
  - UpdatePending: UPDATE ... WHERE id = $n AND status = 'pending'
  - DeleteUnpaid:  DELETE ... WHERE id = $1 AND status <> 'paid'
  - Transition:    UPDATE ... WHERE id = $3 AND status = $4

MIGRATION:
  Migrate creates the schema idempotently. Call it once at startup.

SEE ALSO:
  - store/sqlite: SQLite flavour
  - store/internal/record: Row encoding
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/store/internal/record"
)

const positionConstraint = "idx_obligations_series_position"

// Schema is the DDL Migrate runs.
const Schema = `
CREATE TABLE IF NOT EXISTS obligations (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	series_id TEXT,
	parent_id TEXT,
	position INTEGER NOT NULL DEFAULT 0,
	series_size INTEGER NOT NULL DEFAULT 0,
	installment_index INTEGER NOT NULL DEFAULT 0,
	due_date DATE,
	value NUMERIC(20, 4) NOT NULL,
	currency TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	rule_json JSONB NOT NULL,
	payee TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	document_number TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	attributes_json JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_obligations_series_position
	ON obligations(series_id, position) WHERE series_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_obligations_series_due
	ON obligations(series_id, due_date, installment_index, position);

CREATE TABLE IF NOT EXISTS generation_runs (
	series_id TEXT PRIMARY KEY,
	anchor_id TEXT NOT NULL,
	start_date DATE,
	expected INTEGER NOT NULL,
	created INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_generation_runs_status
	ON generation_runs(status, started_at);
`

// Store implements the recurrence storage interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ recurrence.StatusStore = (*Store)(nil)
	_ recurrence.RunStore    = (*Store)(nil)
)

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle. Tests pass a sqlmock handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// =============================================================================
// OBLIGATION STORE (recurrence.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var insertObligation = `INSERT INTO obligations (` + record.ObligationColumns + `)
	VALUES (` + placeholders(1, 19) + `)`

func (s *Store) Create(ctx context.Context, ob recurrence.Obligation) error {
	return insert(ctx, s.db, ob)
}

func (s *Store) CreateBatch(ctx context.Context, obs []recurrence.Obligation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ob := range obs {
		if err := insert(ctx, tx, ob); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insert(ctx context.Context, db execer, ob recurrence.Obligation) error {
	args, err := record.ObligationArgs(ob)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, insertObligation, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == positionConstraint {
				return fmt.Errorf("%w: series %s position %d", recurrence.ErrDuplicatePosition, ob.SeriesID, ob.Position)
			}
			return fmt.Errorf("%w: obligation %s already exists", recurrence.ErrInvalidObligation, ob.ID)
		}
		return fmt.Errorf("failed to insert obligation: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id recurrence.ObligationID) (recurrence.Obligation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+record.ObligationColumns+` FROM obligations WHERE id = $1`, string(id))
	ob, err := record.ScanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recurrence.Obligation{}, fmt.Errorf("obligation %s: %w", id, recurrence.ErrNotFound)
	}
	if err != nil {
		return recurrence.Obligation{}, fmt.Errorf("failed to get obligation: %w", err)
	}
	return ob, nil
}

func (s *Store) ListSeries(ctx context.Context, seriesID recurrence.SeriesID) ([]recurrence.Obligation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+record.ObligationColumns+` FROM obligations
		WHERE series_id = $1
		ORDER BY due_date ASC NULLS FIRST, installment_index ASC, position ASC, created_at ASC`,
		string(seriesID))
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	members := []recurrence.Obligation{}
	for rows.Next() {
		ob, err := record.ScanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan obligation: %w", err)
		}
		members = append(members, ob)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	recurrence.SortSeries(members)
	return members, nil
}

func (s *Store) UpdatePending(ctx context.Context, ob recurrence.Obligation) (bool, error) {
	args, err := record.ObligationArgs(ob)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE obligations SET
			due_date = $1, value = $2, currency = $3,
			payee = $4, category = $5, document_number = $6, notes = $7, attributes_json = $8,
			updated_at = $9
		WHERE id = $10 AND status = 'pending'`,
		args[7], args[8], args[9],
		args[12], args[13], args[14], args[15], args[16],
		args[18],
		string(ob.ID),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update obligation: %w", err)
	}
	return s.applied(ctx, res, ob.ID)
}

func (s *Store) DeleteUnpaid(ctx context.Context, id recurrence.ObligationID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM obligations WHERE id = $1 AND status <> 'paid'`, string(id))
	if err != nil {
		return false, fmt.Errorf("failed to delete obligation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Transition(ctx context.Context, id recurrence.ObligationID, from, to recurrence.Status, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE obligations SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at.UTC(), string(id), string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition obligation: %w", err)
	}
	return s.applied(ctx, res, id)
}

func (s *Store) applied(ctx context.Context, res sql.Result, id recurrence.ObligationID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM obligations WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("obligation %s: %w", id, recurrence.ErrNotFound)
	}
	return false, nil
}

// =============================================================================
// GENERATION RUNS (recurrence.RunStore interface)
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, run recurrence.GenerationRun) error {
	query := `
		INSERT INTO generation_runs (` + record.RunColumns + `)
		VALUES (` + placeholders(1, 9) + `)
		ON CONFLICT (series_id) DO UPDATE SET
			created = EXCLUDED.created,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, record.RunArgs(run)...); err != nil {
		return fmt.Errorf("failed to save generation run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, seriesID recurrence.SeriesID) (recurrence.GenerationRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+record.RunColumns+` FROM generation_runs WHERE series_id = $1`, string(seriesID))
	run, err := record.ScanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recurrence.GenerationRun{}, fmt.Errorf("generation run %s: %w", seriesID, recurrence.ErrNotFound)
	}
	if err != nil {
		return recurrence.GenerationRun{}, fmt.Errorf("failed to get generation run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, statuses ...recurrence.RunStatus) ([]recurrence.GenerationRun, error) {
	where, args := record.StatusFilter(statuses, func(i int) string { return fmt.Sprintf("$%d", i) }, 1)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+record.RunColumns+` FROM generation_runs `+where+` ORDER BY started_at ASC, series_id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation runs: %w", err)
	}
	defer rows.Close()

	runs := []recurrence.GenerationRun{}
	for rows.Next() {
		run, err := record.ScanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func placeholders(from, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(marks, ", ")
}
