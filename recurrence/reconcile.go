/*
reconcile.go - Detecting and completing partially generated series

PURPOSE:
  Series generation is not atomic. A crash or cancellation after the anchor
  write leaves a series with fewer members than SeriesSize. This file finds
  those series and writes the missing positions.

DETECTION:
  Every member stores Position and SeriesSize, so a gap is visible from the
  members alone. A gap is ambiguous though: the user may have deleted that
  member. The generation journal (RunStore) disambiguates:

    run complete      gaps are user deletions, nothing to resume
    run in_progress   generation may still be running (see Reconciler.Grace)
    run partial       gaps are defects
    no run recorded   gaps are reported; Resume trusts the caller

IDEMPOTENCE:
  Resume writes one member per missing position with Create. Stores enforce
  unique (series, position), so a concurrent resume gets ErrDuplicatePosition
  for positions already written and skips them.

SEE ALSO:
  - generator.go: writes the journal
  - api/scheduler.go: Sweeper runs Resume periodically
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

// SeriesHealth is the result of CheckSeries.
type SeriesHealth struct {
	SeriesID SeriesID  `json:"series_id"`
	AnchorID string    `json:"anchor_id,omitempty"`
	Expected int       `json:"expected"`
	Present  int       `json:"present"`
	Missing  []int     `json:"missing_positions"`
	Run      RunStatus `json:"run_status,omitempty"`

	// Incomplete is true when the missing positions are generation defects
	// rather than deletions.
	Incomplete bool `json:"incomplete"`
}

// Reconciler checks and resumes series.
type Reconciler struct {
	Store  Store
	Locker Locker
	Logger *slog.Logger
	Now    func() time.Time

	// Grace is how long an in_progress run is left alone before it is
	// treated as abandoned.
	Grace time.Duration

	tel *telemetry
}

func NewReconciler(store Store, locker Locker, logger *slog.Logger) *Reconciler {
	if locker == nil {
		locker = noopLocker{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{
		Store:  store,
		Locker: locker,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		Grace:  5 * time.Minute,
		tel:    newTelemetry(),
	}
}

// CheckSeries compares what a series has against what it should have.
func (r *Reconciler) CheckSeries(ctx context.Context, seriesID SeriesID) (SeriesHealth, error) {
	h, _, _, err := r.inspect(ctx, seriesID)
	return h, err
}

func (r *Reconciler) inspect(ctx context.Context, seriesID SeriesID) (SeriesHealth, []Obligation, *GenerationRun, error) {
	members, err := r.Store.ListSeries(ctx, seriesID)
	if err != nil {
		return SeriesHealth{}, nil, nil, fmt.Errorf("load series %s: %w", seriesID, err)
	}

	var run *GenerationRun
	if runs, ok := r.Store.(RunStore); ok {
		got, err := runs.GetRun(ctx, seriesID)
		switch {
		case err == nil:
			run = &got
		case !errors.Is(err, ErrNotFound):
			return SeriesHealth{}, nil, nil, fmt.Errorf("load generation run %s: %w", seriesID, err)
		}
	}
	if len(members) == 0 && run == nil {
		return SeriesHealth{}, nil, nil, fmt.Errorf("series %s: %w", seriesID, ErrNotFound)
	}

	h := SeriesHealth{SeriesID: seriesID, Present: len(members), Missing: []int{}}
	present := make(map[int]bool, len(members))
	for _, m := range members {
		present[m.Position] = true
		if m.SeriesSize > h.Expected {
			h.Expected = m.SeriesSize
		}
		if m.Position == 1 {
			h.AnchorID = string(m.ID)
		}
	}
	if run != nil {
		h.Run = run.Status
		h.AnchorID = string(run.AnchorID)
		if run.Expected > h.Expected {
			h.Expected = run.Expected
		}
	}
	for p := 1; p <= h.Expected; p++ {
		if !present[p] {
			h.Missing = append(h.Missing, p)
		}
	}
	h.Incomplete = len(h.Missing) > 0 && (run == nil || (run.Status != RunComplete && run.Status != RunClosed))
	return h, members, run, nil
}

// ResumeSeries writes the members an incomplete series is missing. It is a
// no-op for a complete series. The anchor position is never recreated: it is
// written before any member, so when it is gone the user deleted it.
func (r *Reconciler) ResumeSeries(ctx context.Context, seriesID SeriesID) (created []Obligation, err error) {
	ctx, span := r.tel.start(ctx, "recurrence.ResumeSeries",
		attribute.String("recurrence.series_id", string(seriesID)))
	defer func() { end(span, err) }()

	unlock, err := r.Locker.Lock(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("lock series %s: %w", seriesID, err)
	}
	defer unlock()

	h, members, run, err := r.inspect(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if !h.Incomplete {
		return []Obligation{}, nil
	}
	if len(members) == 0 {
		// The journal exists but the anchor never made it.
		return nil, fmt.Errorf("series %s has no anchor to resume from: %w", seriesID, ErrNotFound)
	}

	template, start, err := resumeTemplate(members, run)
	if err != nil {
		return nil, err
	}
	rule, err := template.Rule.Rule()
	if err != nil {
		return nil, err
	}
	dates := Sequence(start, rule, h.Expected)

	now := r.Now()
	created = []Obligation{}
	for _, p := range h.Missing {
		if p == 1 || p > len(dates) {
			continue
		}
		m := buildMember(template, dates[p-1], p, now)
		m.SeriesSize = h.Expected
		if err := r.Store.Create(ctx, m); err != nil {
			if errors.Is(err, ErrDuplicatePosition) {
				continue
			}
			r.saveRun(ctx, run, h.Present+len(created), err)
			return created, fmt.Errorf("resume position %d: %w", p, err)
		}
		created = append(created, m)
	}
	r.tel.add(ctx, r.tel.created, len(created))
	r.saveRun(ctx, run, h.Present+len(created), nil)

	r.Logger.InfoContext(ctx, "series resumed",
		"series_id", seriesID, "created", len(created), "expected", h.Expected)
	return created, nil
}

// IncompleteRuns lists series whose generation did not finish. In-progress
// runs younger than Grace are left out.
func (r *Reconciler) IncompleteRuns(ctx context.Context) ([]GenerationRun, error) {
	runs, ok := r.Store.(RunStore)
	if !ok {
		return []GenerationRun{}, nil
	}
	all, err := runs.ListRuns(ctx, RunPartial, RunInProgress)
	if err != nil {
		return nil, fmt.Errorf("list generation runs: %w", err)
	}
	cutoff := r.Now().Add(-r.Grace)
	out := make([]GenerationRun, 0, len(all))
	for _, run := range all {
		if run.Status == RunInProgress && run.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

// resumeTemplate picks the member new ones are cloned from and the date the
// sequence starts at.
func resumeTemplate(members []Obligation, run *GenerationRun) (Obligation, Date, error) {
	var anchor *Obligation
	for i := range members {
		if members[i].Position == 1 {
			anchor = &members[i]
			break
		}
	}
	tmpl := members[0]
	if anchor != nil {
		tmpl = *anchor
	} else {
		// Rebuild the anchor identity so ParentID keeps pointing at it.
		tmpl.ID = tmpl.ParentID
		tmpl.ParentID = ""
	}

	switch {
	case run != nil && !run.Start.IsZero():
		return tmpl, run.Start, nil
	case anchor != nil:
		return tmpl, anchor.DueDate, nil
	}
	return Obligation{}, Date{}, fmt.Errorf("%w: cannot derive series start without anchor or journal", ErrInvalidObligation)
}

func (r *Reconciler) saveRun(ctx context.Context, run *GenerationRun, created int, cause error) {
	runs, ok := r.Store.(RunStore)
	if !ok || run == nil {
		return
	}
	next := *run
	next.Created = created
	next.UpdatedAt = r.Now()
	if cause != nil {
		next.Status = RunPartial
		next.LastError = cause.Error()
	} else {
		next.Status = RunComplete
		next.LastError = ""
	}
	if err := runs.SaveRun(context.WithoutCancel(ctx), next); err != nil {
		r.Logger.WarnContext(ctx, "failed to update generation run",
			"series_id", run.SeriesID, "error", err)
	}
}
