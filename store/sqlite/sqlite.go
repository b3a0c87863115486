/*
Package sqlite provides a SQLite-backed implementation of the recurrence stores.

PURPOSE:
  Implements recurrence.Store, recurrence.StatusStore and recurrence.RunStore
  on SQLite. store/postgres carries the same schema in the PostgreSQL dialect.

CONDITIONAL WRITES:
  Settlement protection lives in the WHERE clause:
  - UpdatePending: UPDATE ... WHERE id = ? AND status = 'pending'
  - DeleteUnpaid:  DELETE ... WHERE id = ? AND status <> 'paid'
  - Transition:    UPDATE ... WHERE id = ? AND status = ?
  RowsAffected tells the engine whether the write applied. A single
  statement is atomic, so a row paid concurrently is never overwritten.

KEY TABLES:
  obligations:     One row per obligation (anchor, member or standalone)
  generation_runs: Journal of series generations, one row per series

INDEXES:
  - idx_obligations_series_position: UNIQUE (series_id, position); makes
    ResumeSeries idempotent and rejects duplicate members
  - idx_obligations_series_due:      ListSeries (hot path)
  - idx_generation_runs_status:      Sweeper scan for incomplete runs

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/obligations.db")
  if err != nil {
      return err
  }
  defer store.Close()

  engine := recurrence.New(store)

SEE ALSO:
  - recurrence/store.go: Interface definitions
  - recurrence/store/memory.go: In-memory implementation for testing
  - store/internal/record: Row encoding shared with store/postgres
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/store/internal/record"
)

// Store implements the recurrence storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ recurrence.StatusStore = (*Store)(nil)
	_ recurrence.RunStore    = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		series_id TEXT,
		parent_id TEXT,
		position INTEGER NOT NULL DEFAULT 0,
		series_size INTEGER NOT NULL DEFAULT 0,
		installment_index INTEGER NOT NULL DEFAULT 0,
		due_date TEXT,
		value TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		rule_json TEXT NOT NULL,
		payee TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		document_number TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		attributes_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_obligations_series_position
		ON obligations(series_id, position) WHERE series_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_obligations_series_due
		ON obligations(series_id, due_date, installment_index, position);

	CREATE INDEX IF NOT EXISTS idx_obligations_status
		ON obligations(status);

	CREATE TABLE IF NOT EXISTS generation_runs (
		series_id TEXT PRIMARY KEY,
		anchor_id TEXT NOT NULL,
		start_date TEXT,
		expected INTEGER NOT NULL,
		created INTEGER NOT NULL,
		status TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_generation_runs_status
		ON generation_runs(status, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// OBLIGATION STORE (recurrence.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts one obligation.
func (s *Store) Create(ctx context.Context, ob recurrence.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(ctx, s.db, ob)
}

// CreateBatch inserts obligations in one transaction.
func (s *Store) CreateBatch(ctx context.Context, obs []recurrence.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ob := range obs {
		if err := s.insert(ctx, tx, ob); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) insert(ctx context.Context, db execer, ob recurrence.Obligation) error {
	args, err := record.ObligationArgs(ob)
	if err != nil {
		return err
	}
	query := `INSERT INTO obligations (` + record.ObligationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isPositionConflict(err) {
			return fmt.Errorf("%w: series %s position %d", recurrence.ErrDuplicatePosition, ob.SeriesID, ob.Position)
		}
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: obligation %s already exists", recurrence.ErrInvalidObligation, ob.ID)
		}
		return fmt.Errorf("failed to insert obligation: %w", err)
	}
	return nil
}

// Get returns one obligation by id.
func (s *Store) Get(ctx context.Context, id recurrence.ObligationID) (recurrence.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+record.ObligationColumns+` FROM obligations WHERE id = ?`, string(id))
	ob, err := record.ScanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recurrence.Obligation{}, fmt.Errorf("obligation %s: %w", id, recurrence.ErrNotFound)
	}
	if err != nil {
		return recurrence.Obligation{}, fmt.Errorf("failed to get obligation: %w", err)
	}
	return ob, nil
}

// ListSeries returns every member of a series.
func (s *Store) ListSeries(ctx context.Context, seriesID recurrence.SeriesID) ([]recurrence.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+record.ObligationColumns+` FROM obligations
		WHERE series_id = ?
		ORDER BY due_date ASC, installment_index ASC, position ASC, created_at ASC`,
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

// UpdatePending writes the editable fields of ob when the row is still pending.
func (s *Store) UpdatePending(ctx context.Context, ob recurrence.Obligation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args, err := record.ObligationArgs(ob)
	if err != nil {
		return false, err
	}
	// args follow ObligationColumns; pick the editable ones.
	res, err := s.db.ExecContext(ctx, `
		UPDATE obligations SET
			due_date = ?, value = ?, currency = ?,
			payee = ?, category = ?, document_number = ?, notes = ?, attributes_json = ?,
			updated_at = ?
		WHERE id = ? AND status = 'pending'`,
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

// DeleteUnpaid removes the row unless it is paid.
func (s *Store) DeleteUnpaid(ctx context.Context, id recurrence.ObligationID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM obligations WHERE id = ? AND status <> 'paid'`, string(id))
	if err != nil {
		return false, fmt.Errorf("failed to delete obligation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Transition moves the row from one lifecycle status to another.
func (s *Store) Transition(ctx context.Context, id recurrence.ObligationID, from, to recurrence.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE obligations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at.UTC(), string(id), string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition obligation: %w", err)
	}
	return s.applied(ctx, res, id)
}

// applied turns RowsAffected into (applied, err), telling a missing row
// (ErrNotFound) apart from a row whose status did not match.
func (s *Store) applied(ctx context.Context, res sql.Result, id recurrence.ObligationID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM obligations WHERE id = ?`, string(id)).Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		return false, fmt.Errorf("obligation %s: %w", id, recurrence.ErrNotFound)
	}
	return false, nil
}

// =============================================================================
// GENERATION RUNS (recurrence.RunStore interface)
// =============================================================================

// SaveRun upserts the run for its series.
func (s *Store) SaveRun(ctx context.Context, run recurrence.GenerationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO generation_runs (` + record.RunColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_id) DO UPDATE SET
			created = excluded.created,
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, record.RunArgs(run)...); err != nil {
		return fmt.Errorf("failed to save generation run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, seriesID recurrence.SeriesID) (recurrence.GenerationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+record.RunColumns+` FROM generation_runs WHERE series_id = ?`, string(seriesID))
	run, err := record.ScanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recurrence.GenerationRun{}, fmt.Errorf("generation run %s: %w", seriesID, recurrence.ErrNotFound)
	}
	if err != nil {
		return recurrence.GenerationRun{}, fmt.Errorf("failed to get generation run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs with the given statuses (all when none), oldest first.
func (s *Store) ListRuns(ctx context.Context, statuses ...recurrence.RunStatus) ([]recurrence.GenerationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := record.StatusFilter(statuses, func(int) string { return "?" }, 1)
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

// Reset deletes all data. Used by tests and the demo server.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM obligations; DELETE FROM generation_runs;`)
	return err
}

// Helper functions

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isPositionConflict(err error) bool {
	return isUniqueConstraintError(err) && strings.Contains(err.Error(), "obligations.series_id")
}
