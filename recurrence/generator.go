/*
generator.go - Series creation

PURPOSE:
  Creates the anchor obligation and its follow-on members for a rule.

FLOW:
  ┌──────────┐   ┌──────────┐   ┌───────────┐   ┌──────────────┐   ┌──────────┐
  │ validate │──▶│ sequence │──▶│ journal   │──▶│ anchor write │──▶│ members  │
  │   rule   │   │  dates   │   │ (runs)    │   │   (Create)   │   │ (batches)│
  └──────────┘   └──────────┘   └───────────┘   └──────────────┘   └──────────┘

ORDERING:
  The anchor is durably written before any member, because members point at
  it (ParentID). The anchor already carries SeriesID and SeriesSize, so even a
  crash right after its write leaves a series that CheckSeries flags.

PARTIAL FAILURE:
  No rollback. If a member batch fails or ctx is cancelled between batches,
  Generate returns *PartialSeriesError with the counts, marks the run partial,
  and leaves what was written. ResumeSeries completes it later.

VALUE:
  Every member carries the template's full value. Installments are not split.
*/
package recurrence

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Generator creates series.
type Generator struct {
	Store  Store
	Policy Policy
	Logger *slog.Logger
	Now    func() time.Time

	tel *telemetry
}

func NewGenerator(store Store, policy Policy, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{
		Store:  store,
		Policy: policy,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		tel:    newTelemetry(),
	}
}

// Dates returns the due dates a generation of rule from start would persist.
func (g *Generator) Dates(start Date, rule Rule) []Date {
	return Sequence(start, rule, SeriesLength(rule, g.Policy.Horizon(rule.Frequency())))
}

// Generate persists the anchor and every member for rule starting at start.
//
// The anchor's due date is the first sequenced date. That equals start for
// every frequency except weekly, whose sequence first moves to the requested
// weekday.
func (g *Generator) Generate(ctx context.Context, template Obligation, start Date, rule Rule) (series Series, err error) {
	if rule == nil {
		return Series{}, &ValidationError{Frequency: "", Errors: []string{msgInvalidType}}
	}
	ctx, span := g.tel.start(ctx, "recurrence.Generate",
		attribute.String("recurrence.frequency", string(rule.Frequency())))
	defer func() { end(span, err) }()

	if res := Validate(rule.Frequency(), rule.Params()); !res.Valid {
		return Series{}, &ValidationError{Frequency: rule.Frequency(), Errors: res.Errors}
	}
	if start.IsZero() {
		return Series{}, fmt.Errorf("%w: start date is required", ErrInvalidObligation)
	}
	template, err = g.normalizeTemplate(template)
	if err != nil {
		return Series{}, err
	}

	now := g.Now()
	anchor := template.Clone()
	anchor.ID = NewObligationID()
	anchor.Status = StatusPending
	anchor.Rule = RecordOf(rule)
	anchor.ParentID = ""
	anchor.CreatedAt = now
	anchor.UpdatedAt = now

	if _, ok := rule.(Unique); ok {
		anchor.DueDate = start
		anchor.SeriesID = ""
		anchor.Position = 0
		anchor.SeriesSize = 0
		anchor.InstallmentIndex = 0
		if err := g.Store.Create(ctx, anchor); err != nil {
			return Series{}, fmt.Errorf("create obligation: %w", err)
		}
		g.tel.add(ctx, g.tel.created, 1)
		return Series{Anchor: anchor}, nil
	}

	dates := g.Dates(start, rule)
	seriesID := NewSeriesID()
	anchor.SeriesID = seriesID
	anchor.DueDate = dates[0]
	anchor.Position = 1
	anchor.SeriesSize = len(dates)
	anchor.InstallmentIndex = 0
	if rule.Frequency() == FrequencyInstallments {
		anchor.InstallmentIndex = 1
	}
	span.SetAttributes(
		attribute.String("recurrence.series_id", string(seriesID)),
		attribute.Int("recurrence.expected", len(dates)),
	)

	runs, _ := g.Store.(RunStore)
	run := GenerationRun{
		SeriesID:  seriesID,
		AnchorID:  anchor.ID,
		Start:     start,
		Expected:  len(dates),
		Status:    RunInProgress,
		StartedAt: now,
		UpdatedAt: now,
	}
	if runs != nil {
		if err := runs.SaveRun(ctx, run); err != nil {
			return Series{}, fmt.Errorf("record generation run: %w", err)
		}
	}

	if err := g.Store.Create(ctx, anchor); err != nil {
		g.finishRun(ctx, runs, run, 0, err)
		return Series{}, fmt.Errorf("create anchor: %w", err)
	}
	g.tel.add(ctx, g.tel.created, 1)

	members := make([]Obligation, 0, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		members = append(members, buildMember(anchor, dates[i], i+1, now))
	}

	written, err := g.writeMembers(ctx, members)
	created := 1 + written
	g.finishRun(ctx, runs, run, created, err)
	if err != nil {
		g.tel.add(ctx, g.tel.partial, 1)
		g.Logger.ErrorContext(ctx, "series generation incomplete",
			"series_id", seriesID, "anchor_id", anchor.ID,
			"expected", len(dates), "created", created, "error", err)
		return Series{ID: seriesID, Anchor: anchor, Members: members[:written]}, &PartialSeriesError{
			SeriesID: seriesID,
			AnchorID: anchor.ID,
			Expected: len(dates),
			Created:  created,
			Err:      err,
		}
	}

	g.Logger.InfoContext(ctx, "series generated",
		"series_id", seriesID, "frequency", rule.Frequency(), "obligations", created)
	return Series{ID: seriesID, Anchor: anchor, Members: members}, nil
}

// writeMembers writes members in batches, checking ctx between batches.
// It returns how many were durably written before the first failure.
func (g *Generator) writeMembers(ctx context.Context, members []Obligation) (int, error) {
	size := g.Policy.batchSize()
	written := 0
	for written < len(members) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		stop := written + size
		if stop > len(members) {
			stop = len(members)
		}
		if err := g.Store.CreateBatch(ctx, members[written:stop]); err != nil {
			return written, err
		}
		g.tel.add(ctx, g.tel.created, stop-written)
		written = stop
	}
	return written, nil
}

func (g *Generator) finishRun(ctx context.Context, runs RunStore, run GenerationRun, created int, cause error) {
	if runs == nil {
		return
	}
	run.Created = created
	run.UpdatedAt = g.Now()
	if cause != nil {
		run.Status = RunPartial
		run.LastError = cause.Error()
	} else {
		run.Status = RunComplete
		run.LastError = ""
	}
	// The run row is advisory; ctx may already be cancelled, so use a detached one.
	if err := runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		g.Logger.WarnContext(ctx, "failed to update generation run",
			"series_id", run.SeriesID, "error", err)
	}
}

func (g *Generator) normalizeTemplate(t Obligation) (Obligation, error) {
	if t.Kind == "" {
		t.Kind = KindPayable
	}
	if !t.Kind.IsValid() {
		return t, fmt.Errorf("%w: unknown kind %q", ErrInvalidObligation, t.Kind)
	}
	if t.Value.IsNegative() {
		return t, fmt.Errorf("%w: value must not be negative", ErrInvalidObligation)
	}
	if t.Currency == "" {
		t.Currency = g.Policy.DefaultCurrency
	}
	return t, nil
}

// buildMember clones the anchor into the member at position (1-based).
func buildMember(anchor Obligation, due Date, position int, now time.Time) Obligation {
	m := anchor.Clone()
	m.ID = NewObligationID()
	m.ParentID = anchor.ID
	m.Position = position
	m.DueDate = due
	m.Status = StatusPending
	m.InstallmentIndex = 0
	if anchor.Rule.Frequency == FrequencyInstallments {
		m.InstallmentIndex = position
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	return m
}
