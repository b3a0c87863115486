package recurrence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

func TestPreviewDates(t *testing.T) {
	// GIVEN: A preview request for more dates than the policy allows
	// WHEN: Previewing
	// THEN: The result is capped at MaxPreviewItems
	e, st := newTestEngine(t)
	e.Policy.MaxPreviewItems = 5

	dates, err := e.PreviewDates(date("2024-01-31"), recurrence.FrequencyMonthly, monthly(31), 50)
	require.NoError(t, err)
	assert.Len(t, dates, 5)
	assert.Equal(t, 0, st.Len(), "preview never writes")

	none, err := e.PreviewDates(date("2024-01-31"), recurrence.FrequencyMonthly, monthly(31), 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = e.PreviewDates(date("2024-01-31"), recurrence.FrequencyMonthly, recurrence.Params{}, 3)
	assert.ErrorIs(t, err, recurrence.ErrInvalidRule)

	_, err = e.PreviewDates(recurrence.Date{}, recurrence.FrequencyMonthly, monthly(1), 3)
	assert.ErrorIs(t, err, recurrence.ErrInvalidObligation)
}

func TestMarkPaidAndCancel(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := t.Context()
	series := createMonthly(t, e, "2024-01-10", 3)

	paid, err := e.MarkPaid(ctx, series.Anchor.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.StatusPaid, paid.Status)

	_, err = e.MarkPaid(ctx, series.Anchor.ID)
	assert.ErrorIs(t, err, recurrence.ErrSettled)
	_, err = e.Cancel(ctx, series.Anchor.ID)
	assert.ErrorIs(t, err, recurrence.ErrSettled)

	cancelled, err := e.Cancel(ctx, series.Members[0].ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.StatusCancelled, cancelled.Status)

	_, err = e.MarkPaid(ctx, "missing")
	assert.True(t, recurrence.IsNotFound(err))
}

// plainStore hides the optional capabilities of the memory store.
type plainStore struct{ recurrence.Store }

func TestMarkPaid_StoreWithoutTransitions(t *testing.T) {
	_, st := newTestEngine(t)
	e := recurrence.New(plainStore{st})

	_, err := e.MarkPaid(context.Background(), "x")
	assert.ErrorIs(t, err, recurrence.ErrTransitionsUnsupported)
}

func TestCreateSeries_WithoutRunStore(t *testing.T) {
	// GIVEN: A store with no generation journal
	// THEN: Series are still generated, and a complete one is healthy
	_, st := newTestEngine(t)
	e := recurrence.New(plainStore{st}, recurrence.WithClock(func() time.Time { return fixedNow }))
	ctx := t.Context()

	series, err := e.CreateSeries(ctx, rentTemplate(), date("2024-01-10"), recurrence.FrequencyMonthly, monthly(10))
	require.NoError(t, err)

	health, err := e.CheckSeries(ctx, series.ID)
	require.NoError(t, err)
	assert.False(t, health.Incomplete)
	assert.Equal(t, 12, health.Present)

	runs, err := e.Reconciler.IncompleteRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGetObligationAndListSeries(t *testing.T) {
	// GIVEN: A series starting on the engine's today (2024-01-15)
	// WHEN: Reading it back
	// THEN: Each view carries its presentation status
	e, _ := newTestEngine(t)
	ctx := t.Context()
	series := createMonthly(t, e, "2024-01-15", 3)

	view, err := e.GetObligation(ctx, series.Anchor.ID, recurrence.Date{})
	require.NoError(t, err)
	assert.Equal(t, recurrence.TagDueSoon, view.Tag)
	assert.Equal(t, series.Anchor.ID, view.ID)

	views, err := e.ListSeries(ctx, series.ID, date("2024-02-20"))
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, series.Anchor.ID, views[0].ID)
	assert.Equal(t, recurrence.TagOverdue, views[0].Tag)
	assert.Equal(t, recurrence.TagOverdue, views[1].Tag)
	assert.Equal(t, recurrence.TagOnTime, views[2].Tag)

	_, err = e.ListSeries(ctx, "missing", recurrence.Date{})
	assert.True(t, recurrence.IsNotFound(err))
	_, err = e.GetObligation(ctx, "missing", recurrence.Date{})
	assert.True(t, recurrence.IsNotFound(err))
}

func TestToday_UsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	late := time.Date(2024, time.March, 1, 1, 30, 0, 0, time.UTC)
	e := recurrence.New(nil, recurrence.WithClock(func() time.Time { return late }), recurrence.WithLocation(loc))

	assert.Equal(t, "2024-02-29", e.Today().String())
}

func TestGenerationDates_MatchPersistedSeries(t *testing.T) {
	// GIVEN: A policy with a weekly horizon of 5 and a 24-installment rule
	// WHEN: Asking for the generation dates and then creating each series
	// THEN: The dates are exactly the persisted due dates
	policy := recurrence.DefaultPolicy()
	policy.Horizons = map[recurrence.Frequency]int{recurrence.FrequencyWeekly: 5}
	e, _ := newTestEngine(t, recurrence.WithPolicy(policy))
	ctx := t.Context()

	tests := []struct {
		name   string
		freq   recurrence.Frequency
		params recurrence.Params
		want   int
	}{
		{"weekly policy horizon", recurrence.FrequencyWeekly, recurrence.Params{DayOfWeek: recurrence.IntPtr(5)}, 5},
		{"installments count", recurrence.FrequencyInstallments, recurrence.Params{
			InstallmentCount: recurrence.IntPtr(24), InstallmentDay: recurrence.IntPtr(31),
		}, 24},
		{"monthly default horizon", recurrence.FrequencyMonthly, monthly(31), 12},
		{"unique", recurrence.FrequencyUnique, recurrence.Params{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dates, err := e.GenerationDates(date("2024-01-31"), tt.freq, tt.params)
			require.NoError(t, err)
			require.Len(t, dates, tt.want)

			series, err := e.CreateSeries(ctx, rentTemplate(), date("2024-01-31"), tt.freq, tt.params)
			require.NoError(t, err)
			persisted := make([]recurrence.Date, 0, tt.want)
			for _, o := range series.All() {
				persisted = append(persisted, o.DueDate)
			}
			assert.Equal(t, dateStrings(dates), dateStrings(persisted))
		})
	}

	_, err := e.GenerationDates(date("2024-01-31"), recurrence.FrequencyMonthly, recurrence.Params{})
	assert.ErrorIs(t, err, recurrence.ErrInvalidRule)
	_, err = e.GenerationDates(recurrence.Date{}, recurrence.FrequencyUnique, recurrence.Params{})
	assert.ErrorIs(t, err, recurrence.ErrInvalidObligation)
}
