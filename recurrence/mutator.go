/*
mutator.go - Scoped series update and delete

SCOPES:
  current  the reference obligation only; other members are never read
  future   pending members due on or after the reference due date
  all      every pending member

SETTLEMENT PROTECTION:
  Paid members are never updated or deleted by a series operation.
  Selection filters them out, and every write goes through UpdatePending /
  DeleteUnpaid, which re-check the status atomically with the write. A member
  paid between selection and write is skipped (MutationResult.Skipped), not
  overwritten, and the operation still succeeds with an accurate count.

  Update only touches pending members (cancelled ones are terminal too).
  Delete removes pending and cancelled members; only paid ones are kept.

RULE IMMUTABILITY:
  Frequency-defining fields cannot change once a series exists. A patch that
  carries a different rule is rejected with ErrRuleImmutable instead of being
  silently ignored.

UNFINISHED GENERATIONS:
  A delete that removes anything from a series whose generation run is
  in_progress or partial closes the run before the series lock is released,
  so the reconciler never recreates what the user removed.
*/
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// UpdateRequest selects which members of a series a patch applies to.
//
// ReferenceID is the obligation the user is looking at. It is required for
// ScopeCurrent; for ScopeFuture either ReferenceID or ReferenceDueDate
// provides the cut-off date.
type UpdateRequest struct {
	SeriesID         SeriesID
	ReferenceID      ObligationID
	ReferenceDueDate Date
	Patch            Patch
	Scope            Scope
}

type DeleteRequest struct {
	SeriesID         SeriesID
	ReferenceID      ObligationID
	ReferenceDueDate Date
	Scope            Scope
}

// MutationResult lists the obligations a scoped operation changed, and the
// ones it had selected but skipped because they settled in the meantime.
type MutationResult struct {
	IDs     []ObligationID
	Skipped []ObligationID
}

func (r MutationResult) Count() int { return len(r.IDs) }

// Mutator applies scoped edits and deletes.
type Mutator struct {
	Store  Store
	Locker Locker
	Logger *slog.Logger
	Now    func() time.Time

	tel *telemetry
}

func NewMutator(store Store, locker Locker, logger *slog.Logger) *Mutator {
	if locker == nil {
		locker = noopLocker{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mutator{
		Store:  store,
		Locker: locker,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		tel:    newTelemetry(),
	}
}

// =============================================================================
// UPDATE
// =============================================================================

func (m *Mutator) Update(ctx context.Context, req UpdateRequest) (res MutationResult, err error) {
	ctx, span := m.tel.start(ctx, "recurrence.Update",
		attribute.String("recurrence.series_id", string(req.SeriesID)),
		attribute.String("recurrence.scope", req.Scope.String()))
	defer func() { end(span, err) }()

	switch req.Scope {
	case ScopeCurrent, ScopeFuture, ScopeAll:
	default:
		return MutationResult{}, fmt.Errorf("%w: %s", ErrInvalidScope, req.Scope)
	}
	if req.Patch.DueDate.IsPresent() && req.Scope != ScopeCurrent {
		return MutationResult{}, fmt.Errorf("%w: due date can only change for a single occurrence", ErrInvalidScope)
	}

	unlock, err := m.lock(ctx, req.SeriesID)
	if err != nil {
		return MutationResult{}, err
	}
	defer unlock()

	if req.Scope == ScopeCurrent {
		return m.updateCurrent(ctx, req)
	}

	members, err := m.loadSeries(ctx, req.SeriesID)
	if err != nil {
		return MutationResult{}, err
	}
	if err := checkRule(req.Patch, members[0].Rule); err != nil {
		return MutationResult{}, err
	}
	cutoff, err := m.cutoff(ctx, req.SeriesID, req.Scope, req.ReferenceID, req.ReferenceDueDate)
	if err != nil {
		return MutationResult{}, err
	}

	now := m.Now()
	res = MutationResult{IDs: []ObligationID{}, Skipped: []ObligationID{}}
	for _, member := range members {
		if !member.IsPending() || !inScope(member, req.Scope, cutoff) {
			continue
		}
		next := req.Patch.Apply(member)
		next.UpdatedAt = now
		applied, err := m.Store.UpdatePending(ctx, next)
		if err != nil {
			return res, fmt.Errorf("update %s: %w", member.ID, err)
		}
		if !applied {
			res.Skipped = append(res.Skipped, member.ID)
			continue
		}
		res.IDs = append(res.IDs, member.ID)
	}

	m.report(ctx, "series updated", req.SeriesID, req.Scope, res)
	return res, nil
}

func (m *Mutator) updateCurrent(ctx context.Context, req UpdateRequest) (MutationResult, error) {
	ref, err := m.reference(ctx, req.SeriesID, req.ReferenceID)
	if err != nil {
		return MutationResult{}, err
	}
	if err := checkRule(req.Patch, ref.Rule); err != nil {
		return MutationResult{}, err
	}
	if !ref.IsPending() {
		return MutationResult{}, fmt.Errorf("%w: %s is %s", ErrSettled, ref.ID, ref.Status)
	}

	next := req.Patch.Apply(ref)
	next.UpdatedAt = m.Now()
	applied, err := m.Store.UpdatePending(ctx, next)
	if err != nil {
		return MutationResult{}, fmt.Errorf("update %s: %w", ref.ID, err)
	}
	res := MutationResult{IDs: []ObligationID{}, Skipped: []ObligationID{}}
	if applied {
		res.IDs = append(res.IDs, ref.ID)
	} else {
		res.Skipped = append(res.Skipped, ref.ID)
	}
	m.report(ctx, "obligation updated", req.SeriesID, ScopeCurrent, res)
	return res, nil
}

// =============================================================================
// DELETE
// =============================================================================

func (m *Mutator) Delete(ctx context.Context, req DeleteRequest) (res MutationResult, err error) {
	ctx, span := m.tel.start(ctx, "recurrence.Delete",
		attribute.String("recurrence.series_id", string(req.SeriesID)),
		attribute.String("recurrence.scope", req.Scope.String()))
	defer func() { end(span, err) }()

	switch req.Scope {
	case ScopeCurrent, ScopeFuture, ScopeAll:
	default:
		return MutationResult{}, fmt.Errorf("%w: %s", ErrInvalidScope, req.Scope)
	}

	unlock, err := m.lock(ctx, req.SeriesID)
	if err != nil {
		return MutationResult{}, err
	}
	defer unlock()

	var targets []Obligation
	if req.Scope == ScopeCurrent {
		ref, err := m.reference(ctx, req.SeriesID, req.ReferenceID)
		if err != nil {
			return MutationResult{}, err
		}
		if ref.Status == StatusPaid {
			return MutationResult{}, fmt.Errorf("%w: %s is paid", ErrSettled, ref.ID)
		}
		targets = []Obligation{ref}
	} else {
		members, err := m.loadSeries(ctx, req.SeriesID)
		if err != nil {
			return MutationResult{}, err
		}
		cutoff, err := m.cutoff(ctx, req.SeriesID, req.Scope, req.ReferenceID, req.ReferenceDueDate)
		if err != nil {
			return MutationResult{}, err
		}
		for _, member := range members {
			if member.Status != StatusPaid && inScope(member, req.Scope, cutoff) {
				targets = append(targets, member)
			}
		}
	}

	res = MutationResult{IDs: []ObligationID{}, Skipped: []ObligationID{}}
	defer func() {
		if len(res.IDs) > 0 {
			m.closeRun(ctx, req.SeriesID)
		}
	}()
	for _, t := range targets {
		applied, err := m.Store.DeleteUnpaid(ctx, t.ID)
		if err != nil {
			return res, fmt.Errorf("delete %s: %w", t.ID, err)
		}
		if !applied {
			res.Skipped = append(res.Skipped, t.ID)
			continue
		}
		res.IDs = append(res.IDs, t.ID)
	}

	m.report(ctx, "series deleted", req.SeriesID, req.Scope, res)
	return res, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Mutator) lock(ctx context.Context, seriesID SeriesID) (func(), error) {
	if seriesID == "" {
		return func() {}, nil
	}
	unlock, err := m.Locker.Lock(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("lock series %s: %w", seriesID, err)
	}
	return unlock, nil
}

func (m *Mutator) loadSeries(ctx context.Context, seriesID SeriesID) ([]Obligation, error) {
	if seriesID == "" {
		return nil, fmt.Errorf("%w: series id is required for scope future/all", ErrInvalidScope)
	}
	members, err := m.Store.ListSeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("load series %s: %w", seriesID, err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("series %s: %w", seriesID, ErrNotFound)
	}
	return members, nil
}

// reference loads the obligation the user is looking at and checks that it
// belongs to seriesID (when one is given).
func (m *Mutator) reference(ctx context.Context, seriesID SeriesID, id ObligationID) (Obligation, error) {
	if id == "" {
		return Obligation{}, fmt.Errorf("%w: reference obligation is required", ErrInvalidScope)
	}
	ref, err := m.Store.Get(ctx, id)
	if err != nil {
		return Obligation{}, err
	}
	if seriesID != "" && ref.SeriesID != seriesID {
		return Obligation{}, fmt.Errorf("obligation %s in series %s: %w", id, seriesID, ErrNotFound)
	}
	return ref, nil
}

// cutoff returns the inclusive lower due date bound for ScopeFuture.
func (m *Mutator) cutoff(ctx context.Context, seriesID SeriesID, scope Scope, refID ObligationID, refDue Date) (Date, error) {
	if scope != ScopeFuture {
		return Date{}, nil
	}
	if refID != "" {
		ref, err := m.reference(ctx, seriesID, refID)
		if err != nil {
			return Date{}, err
		}
		return ref.DueDate, nil
	}
	if refDue.IsZero() {
		return Date{}, fmt.Errorf("%w: future scope needs a reference obligation or due date", ErrInvalidScope)
	}
	return refDue, nil
}

func inScope(o Obligation, scope Scope, cutoff Date) bool {
	switch scope {
	case ScopeAll:
		return true
	case ScopeFuture:
		return o.DueDate.AfterOrEqual(cutoff)
	}
	return false
}

func checkRule(p Patch, current RuleRecord) error {
	proposed, ok := p.Rule.Get()
	if !ok {
		return nil
	}
	if proposed.Frequency != current.Frequency || !paramsEqual(proposed.Params, current.Params) {
		return fmt.Errorf("%w: have %s, got %s", ErrRuleImmutable, current.Frequency, proposed.Frequency)
	}
	return nil
}

// closeRun stops an unfinished generation of seriesID from being resumed
// over members the user deleted. The caller holds the series lock.
func (m *Mutator) closeRun(ctx context.Context, seriesID SeriesID) {
	runs, ok := m.Store.(RunStore)
	if !ok || seriesID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	run, err := runs.GetRun(ctx, seriesID)
	switch {
	case errors.Is(err, ErrNotFound):
		return
	case err != nil:
		m.Logger.WarnContext(ctx, "failed to load generation run", "series_id", seriesID, "error", err)
		return
	case run.Status == RunComplete || run.Status == RunClosed:
		return
	}
	run.Status = RunClosed
	run.UpdatedAt = m.Now()
	if err := runs.SaveRun(ctx, run); err != nil {
		m.Logger.WarnContext(ctx, "failed to close generation run", "series_id", seriesID, "error", err)
		return
	}
	m.Logger.InfoContext(ctx, "generation run closed by delete", "series_id", seriesID, "created", run.Created)
}

func (m *Mutator) report(ctx context.Context, msg string, seriesID SeriesID, scope Scope, res MutationResult) {
	attrs := attribute.String("recurrence.scope", scope.String())
	m.tel.add(ctx, m.tel.mutated, len(res.IDs), attrs)
	m.tel.add(ctx, m.tel.conflicts, len(res.Skipped), attrs)
	if len(res.Skipped) > 0 {
		m.Logger.WarnContext(ctx, "members settled during series operation were skipped",
			"series_id", seriesID, "scope", scope.String(), "skipped", res.Skipped)
	}
	m.Logger.InfoContext(ctx, msg,
		"series_id", seriesID, "scope", scope.String(), "count", len(res.IDs))
}
