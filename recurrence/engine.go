package recurrence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/samber/mo"
)

// =============================================================================
// ENGINE - Transport-agnostic API surface
// =============================================================================

// Engine wires the validator, sequencer, generator, mutator and reconciler
// over one Store. The api package and the seriesctl CLI both drive it.
type Engine struct {
	Store      Store
	Policy     Policy
	Logger     *slog.Logger
	Location   *time.Location
	Generator  *Generator
	Mutator    *Mutator
	Reconciler *Reconciler

	now    func() time.Time
	locker Locker
}

type Option func(*Engine)

func WithPolicy(p Policy) Option { return func(e *Engine) { e.Policy = p } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.Logger = l } }

func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLocation sets the timezone "today" is computed in.
func WithLocation(loc *time.Location) Option { return func(e *Engine) { e.Location = loc } }

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		Store:    store,
		Policy:   DefaultPolicy(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Location: time.UTC,
		now:      func() time.Time { return time.Now().UTC() },
		locker:   noopLocker{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Logger == nil {
		e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.locker == nil {
		e.locker = noopLocker{}
	}

	e.Generator = NewGenerator(store, e.Policy, e.Logger)
	e.Generator.Now = e.now
	e.Mutator = NewMutator(store, e.locker, e.Logger)
	e.Mutator.Now = e.now
	e.Reconciler = NewReconciler(store, e.locker, e.Logger)
	e.Reconciler.Now = e.now
	return e
}

// Today is the current date in the engine's location.
func (e *Engine) Today() Date {
	return DateOf(e.now().In(e.Location))
}

func (e *Engine) ValidateRule(frequency Frequency, p Params) Result {
	return Validate(frequency, p)
}

// PreviewDates returns the dates a series would get, capped by
// Policy.MaxPreviewItems. The rule is validated first.
func (e *Engine) PreviewDates(start Date, frequency Frequency, p Params, maxItems int) ([]Date, error) {
	rule, err := BuildRule(frequency, p)
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		return nil, fmt.Errorf("%w: start date is required", ErrInvalidObligation)
	}
	if limit := e.Policy.previewCap(); maxItems > limit {
		maxItems = limit
	}
	return Sequence(start, rule, maxItems), nil
}

// GenerationDates returns exactly the due dates CreateSeries would persist
// for the rule: the policy horizon of its frequency, or the installment count.
func (e *Engine) GenerationDates(start Date, frequency Frequency, p Params) ([]Date, error) {
	rule, err := BuildRule(frequency, p)
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		return nil, fmt.Errorf("%w: start date is required", ErrInvalidObligation)
	}
	return e.Generator.Dates(start, rule), nil
}

// CreateSeries validates the rule and generates the series. On a partial
// failure it returns what was written together with *PartialSeriesError.
func (e *Engine) CreateSeries(ctx context.Context, template Obligation, start Date, frequency Frequency, p Params) (Series, error) {
	rule, err := BuildRule(frequency, p)
	if err != nil {
		return Series{}, err
	}
	return e.Generator.Generate(ctx, template, start, rule)
}

func (e *Engine) UpdateSeries(ctx context.Context, req UpdateRequest) (MutationResult, error) {
	return e.Mutator.Update(ctx, req)
}

// DeleteSeries deletes every unpaid member of a series.
func (e *Engine) DeleteSeries(ctx context.Context, seriesID SeriesID) (int, error) {
	res, err := e.Mutator.Delete(ctx, DeleteRequest{SeriesID: seriesID, Scope: ScopeAll})
	return res.Count(), err
}

func (e *Engine) DeleteScoped(ctx context.Context, req DeleteRequest) (MutationResult, error) {
	return e.Mutator.Delete(ctx, req)
}

func (e *Engine) PresentStatus(due mo.Option[Date], status Status, today Date) StatusTag {
	return Present(due, status, today, e.Policy.DueSoonWindow)
}

// View is an obligation with its presentation status for a given day.
type View struct {
	Obligation
	Tag StatusTag
}

func (e *Engine) view(o Obligation, today Date) View {
	return View{Obligation: o, Tag: Present(o.Due(), o.Status, today, e.Policy.DueSoonWindow)}
}

// GetObligation returns the obligation and its status as of today. A zero
// today means the engine's current date.
func (e *Engine) GetObligation(ctx context.Context, id ObligationID, today Date) (View, error) {
	o, err := e.Store.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	if today.IsZero() {
		today = e.Today()
	}
	return e.view(o, today), nil
}

// ListSeries returns every member of a series, anchor first.
func (e *Engine) ListSeries(ctx context.Context, seriesID SeriesID, today Date) ([]View, error) {
	members, err := e.Store.ListSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("series %s: %w", seriesID, ErrNotFound)
	}
	if today.IsZero() {
		today = e.Today()
	}
	out := make([]View, 0, len(members))
	for _, m := range members {
		out = append(out, e.view(m, today))
	}
	return out, nil
}

func (e *Engine) CheckSeries(ctx context.Context, seriesID SeriesID) (SeriesHealth, error) {
	return e.Reconciler.CheckSeries(ctx, seriesID)
}

func (e *Engine) ResumeSeries(ctx context.Context, seriesID SeriesID) ([]Obligation, error) {
	return e.Reconciler.ResumeSeries(ctx, seriesID)
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

// ErrTransitionsUnsupported is returned by MarkPaid and Cancel when the store
// does not implement StatusStore.
var ErrTransitionsUnsupported = errors.New("store does not support status transitions")

func (e *Engine) MarkPaid(ctx context.Context, id ObligationID) (Obligation, error) {
	return e.transition(ctx, id, StatusPaid)
}

func (e *Engine) Cancel(ctx context.Context, id ObligationID) (Obligation, error) {
	return e.transition(ctx, id, StatusCancelled)
}

func (e *Engine) transition(ctx context.Context, id ObligationID, to Status) (Obligation, error) {
	ss, ok := e.Store.(StatusStore)
	if !ok {
		return Obligation{}, ErrTransitionsUnsupported
	}
	applied, err := ss.Transition(ctx, id, StatusPending, to, e.now())
	if err != nil {
		return Obligation{}, fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	if !applied {
		return Obligation{}, fmt.Errorf("%w: %s is not pending", ErrSettled, id)
	}
	e.Logger.InfoContext(ctx, "obligation transitioned", "obligation_id", id, "status", to)
	return ss.Get(ctx, id)
}
