/*
errors.go - Error types for the recurrence engine

ERROR CATEGORIES:
  1. Validation - rule incomplete/malformed; reported before any write
  2. Partial series - anchor written, members incomplete; recoverable
  3. Mutation - settled targets, immutable rule fields, invalid scope
  4. Store - not found, duplicate position, lock contention

Concurrent settlement conflicts (a member paid between selection and write)
are NOT errors: the mutator skips the member and reports it in
MutationResult.Skipped.

USAGE:
  var vErr *recurrence.ValidationError
  if errors.As(err, &vErr) {
      show(vErr.Errors)
  }
  if errors.Is(err, recurrence.ErrPartialSeries) {
      // anchor exists; call ResumeSeries or surface the defect
  }
*/
package recurrence

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRule is the sentinel every *ValidationError unwraps to.
	ErrInvalidRule = errors.New("invalid recurrence rule")

	// ErrPartialSeries is the sentinel every *PartialSeriesError unwraps to.
	ErrPartialSeries = errors.New("series generation incomplete")

	// ErrNotFound is returned when a series or obligation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSettled is returned when a directly targeted obligation is no longer pending.
	ErrSettled = errors.New("obligation is settled")

	// ErrRuleImmutable is returned when an edit tries to change the rule of an existing series.
	ErrRuleImmutable = errors.New("recurrence rule cannot change once a series exists")

	// ErrInvalidScope is returned for unknown scopes or scope/patch combinations that make no sense.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidObligation is returned when a template is unusable (bad kind, negative value...).
	ErrInvalidObligation = errors.New("invalid obligation")

	// ErrDuplicatePosition is returned when (series_id, position) already exists.
	// Resume relies on it to stay idempotent.
	ErrDuplicatePosition = errors.New("series position already exists")

	// ErrSeriesLocked is returned when another mutation holds the series lock.
	ErrSeriesLocked = errors.New("series is locked by another operation")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError carries every defect of a rule.
type ValidationError struct {
	Frequency Frequency
	Errors    []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s rule: %s", e.Frequency, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRule }

// PartialSeriesError reports an anchor persisted without its full member set.
// Expected counts the anchor; Created counts what is durably stored.
type PartialSeriesError struct {
	SeriesID SeriesID
	AnchorID ObligationID
	Expected int
	Created  int
	Err      error
}

func (e *PartialSeriesError) Error() string {
	return fmt.Sprintf("series %s incomplete: %d of %d obligations created: %v",
		e.SeriesID, e.Created, e.Expected, e.Err)
}

func (e *PartialSeriesError) Unwrap() []error { return []error{ErrPartialSeries, e.Err} }

// Missing is how many members still need to be created.
func (e *PartialSeriesError) Missing() int { return e.Expected - e.Created }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrInvalidScope) ||
		errors.Is(err, ErrInvalidObligation) ||
		errors.Is(err, ErrRuleImmutable)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSettled) ||
		errors.Is(err, ErrDuplicatePosition) ||
		errors.Is(err, ErrSeriesLocked)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSeriesLocked) || errors.Is(err, ErrPartialSeries)
}
