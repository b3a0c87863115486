/*
store.go - Persistence interface for obligations

PURPOSE:
  Defines the boundary between the engine and the database. Implementations
  live in store/sqlite, store/postgres, store/bolt and recurrence/store (memory).

ASSUMPTIONS:
  The engine needs only per-row atomicity and an efficient "all members of a
  series" query. It never assumes cross-row transactions.

CONDITIONAL WRITES:
  UpdatePending and DeleteUnpaid re-check the lifecycle status in the same
  atomic step as the write. That is what keeps the settlement-protection
  invariant under races: a member paid between the mutator's selection and
  its write is simply not touched (applied == false).

OPTIONAL CAPABILITIES:
  RunStore     - generation journal used to tell "incomplete" from "user deleted"
  StatusStore  - lifecycle transitions (pay / cancel)
  Stores advertise them by implementing the interface; the engine checks with
  a type assertion.
*/
package recurrence

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Obligation persistence
// =============================================================================

type Store interface {
	// Create persists one obligation.
	// Returns ErrDuplicatePosition if (SeriesID, Position) exists.
	Create(ctx context.Context, ob Obligation) error

	// CreateBatch persists several obligations of one series.
	// Implementations may write them atomically; callers must not rely on it.
	CreateBatch(ctx context.Context, obs []Obligation) error

	// Get returns ErrNotFound when the id does not exist.
	Get(ctx context.Context, id ObligationID) (Obligation, error)

	// ListSeries returns every member of a series ordered by SortSeries.
	// An unknown series yields an empty slice, not an error.
	ListSeries(ctx context.Context, seriesID SeriesID) ([]Obligation, error)

	// UpdatePending overwrites the record with ob if, and only if, the stored
	// record is still pending. applied reports whether the write happened.
	UpdatePending(ctx context.Context, ob Obligation) (applied bool, err error)

	// DeleteUnpaid removes the record if it is not paid.
	DeleteUnpaid(ctx context.Context, id ObligationID) (applied bool, err error)
}

// StatusStore performs lifecycle transitions as compare-and-set.
type StatusStore interface {
	Store

	// Transition moves id from `from` to `to`. applied is false when the
	// stored status was not `from`.
	Transition(ctx context.Context, id ObligationID, from, to Status, at time.Time) (applied bool, err error)
}

// =============================================================================
// GENERATION JOURNAL
// =============================================================================

type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunComplete   RunStatus = "complete"
	RunPartial    RunStatus = "partial"
	// RunClosed marks an unfinished run the user deleted members from. Its
	// gaps are intentional and never resumed.
	RunClosed RunStatus = "closed"
)

// GenerationRun records one series generation so a crash between the anchor
// write and the last member write stays visible.
type GenerationRun struct {
	SeriesID  SeriesID
	AnchorID  ObligationID
	Start     Date
	Expected  int
	Created   int
	Status    RunStatus
	LastError string
	StartedAt time.Time
	UpdatedAt time.Time
}

// RunStore persists generation runs. SaveRun upserts by SeriesID.
type RunStore interface {
	SaveRun(ctx context.Context, run GenerationRun) error
	GetRun(ctx context.Context, seriesID SeriesID) (GenerationRun, error)
	ListRuns(ctx context.Context, statuses ...RunStatus) ([]GenerationRun, error)
}

// =============================================================================
// LOCKER - Serializes mutations of one series
// =============================================================================

// Locker grants exclusive access to a series for the duration of a mutation.
// Lock returns ErrSeriesLocked when the series is held elsewhere.
type Locker interface {
	Lock(ctx context.Context, seriesID SeriesID) (unlock func(), err error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, SeriesID) (func(), error) { return func() {}, nil }
