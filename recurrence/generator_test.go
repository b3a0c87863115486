package recurrence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

func TestGenerate_MonthlySeriesShape(t *testing.T) {
	// GIVEN: A monthly rule on day 31 and the default horizon of 12
	// WHEN: The series is created
	// THEN: The anchor sits at position 1 and every member points at it
	e, st := newTestEngine(t)

	series, err := e.CreateSeries(t.Context(), rentTemplate(), date("2024-01-31"),
		recurrence.FrequencyMonthly, monthly(31))
	require.NoError(t, err)

	anchor := series.Anchor
	assert.NotEmpty(t, series.ID)
	assert.Equal(t, series.ID, anchor.SeriesID)
	assert.Empty(t, anchor.ParentID)
	assert.True(t, anchor.IsAnchor())
	assert.Equal(t, 1, anchor.Position)
	assert.Equal(t, 12, anchor.SeriesSize)
	assert.Equal(t, "2024-01-31", anchor.DueDate.String())
	assert.Equal(t, recurrence.FrequencyMonthly, anchor.Rule.Frequency)
	require.Len(t, series.Members, 11)
	assert.Equal(t, 12, st.Len())

	for i, m := range series.Members {
		assert.Equal(t, anchor.ID, m.ParentID)
		assert.Equal(t, series.ID, m.SeriesID)
		assert.Equal(t, i+2, m.Position)
		assert.Equal(t, 12, m.SeriesSize)
		assert.Equal(t, recurrence.StatusPending, m.Status)
		assert.True(t, m.Value.Equal(decimal.RequireFromString("1250.00")), "each member carries the full value")
		assert.Equal(t, "Landlord", m.Payee)
		assert.Equal(t, anchor.Rule, m.Rule)
	}
	assert.Equal(t, "2024-02-29", series.Members[0].DueDate.String())
	assert.Equal(t, "2024-12-31", series.Members[10].DueDate.String())

	run, err := st.GetRun(t.Context(), series.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.RunComplete, run.Status)
	assert.Equal(t, 12, run.Created)
	assert.Equal(t, "2024-01-31", run.Start.String())
}

func TestGenerate_PolicyHorizonPerFrequency(t *testing.T) {
	policy := recurrence.DefaultPolicy()
	policy.Horizons[recurrence.FrequencyWeekly] = 26
	e, _ := newTestEngine(t, recurrence.WithPolicy(policy))

	series, err := e.CreateSeries(t.Context(), rentTemplate(), date("2024-01-01"),
		recurrence.FrequencyWeekly, recurrence.Params{DayOfWeek: recurrence.IntPtr(1)})
	require.NoError(t, err)

	assert.Len(t, series.All(), 26)
}

func TestGenerate_WeeklyAnchorOnFirstSequencedDate(t *testing.T) {
	// GIVEN: Start on a Wednesday, weekly on Friday
	// THEN: The anchor is due on the first Friday, not on the start date
	e, _ := newTestEngine(t)

	series, err := e.CreateSeries(t.Context(), rentTemplate(), date("2024-01-31"),
		recurrence.FrequencyWeekly, recurrence.Params{DayOfWeek: recurrence.IntPtr(5)})
	require.NoError(t, err)

	assert.Equal(t, "2024-02-02", series.Anchor.DueDate.String())
	assert.Equal(t, "2024-02-09", series.Members[0].DueDate.String())
}

func TestGenerate_InstallmentsCarryIndex(t *testing.T) {
	e, _ := newTestEngine(t)

	series, err := e.CreateSeries(t.Context(), rentTemplate(), date("2024-01-10"),
		recurrence.FrequencyInstallments, recurrence.Params{
			InstallmentCount: recurrence.IntPtr(5),
			InstallmentDay:   recurrence.IntPtr(10),
		})
	require.NoError(t, err)

	all := series.All()
	require.Len(t, all, 5)
	for i, o := range all {
		assert.Equal(t, i+1, o.InstallmentIndex)
		assert.Equal(t, 5, o.SeriesSize)
	}
}

func TestGenerate_UniqueIsStandalone(t *testing.T) {
	e, st := newTestEngine(t)

	series, err := e.CreateSeries(t.Context(), rentTemplate(), date("2024-06-15"),
		recurrence.FrequencyUnique, recurrence.Params{})
	require.NoError(t, err)

	assert.True(t, series.Anchor.IsStandalone())
	assert.Empty(t, series.Members)
	assert.Equal(t, "2024-06-15", series.Anchor.DueDate.String())
	assert.Equal(t, 1, st.Len())
}

func TestGenerate_TemplateDefaultsAndChecks(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := t.Context()

	tmpl := rentTemplate()
	tmpl.Kind = ""
	tmpl.Currency = ""
	series, err := e.CreateSeries(ctx, tmpl, date("2024-01-01"), recurrence.FrequencyUnique, recurrence.Params{})
	require.NoError(t, err)
	assert.Equal(t, recurrence.KindPayable, series.Anchor.Kind)
	assert.Equal(t, "BRL", series.Anchor.Currency)

	bad := rentTemplate()
	bad.Kind = "loan"
	_, err = e.CreateSeries(ctx, bad, date("2024-01-01"), recurrence.FrequencyUnique, recurrence.Params{})
	assert.ErrorIs(t, err, recurrence.ErrInvalidObligation)

	negative := rentTemplate()
	negative.Value = decimal.NewFromInt(-1)
	_, err = e.CreateSeries(ctx, negative, date("2024-01-01"), recurrence.FrequencyMonthly, monthly(1))
	assert.ErrorIs(t, err, recurrence.ErrInvalidObligation)

	_, err = e.CreateSeries(ctx, rentTemplate(), recurrence.Date{}, recurrence.FrequencyMonthly, monthly(1))
	assert.ErrorIs(t, err, recurrence.ErrInvalidObligation)
}

// =============================================================================
// PARTIAL FAILURE
// =============================================================================

func TestGenerate_PartialFailureIsDetectable(t *testing.T) {
	// GIVEN: A store that fails the second member batch
	// WHEN: A 6-member series is created with batches of 2
	// THEN: A PartialSeriesError reports 3 of 6 and the journal says partial
	fs := newFlakyStore(1, errors.New("disk full"))
	policy := recurrence.DefaultPolicy()
	policy.Horizons[recurrence.FrequencyMonthly] = 6
	policy.BatchSize = 2
	e := recurrence.New(fs, recurrence.WithPolicy(policy), recurrence.WithClock(func() time.Time { return fixedNow }))
	ctx := t.Context()

	series, err := e.CreateSeries(ctx, rentTemplate(), date("2024-01-31"), recurrence.FrequencyMonthly, monthly(31))

	var partial *recurrence.PartialSeriesError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, recurrence.ErrPartialSeries)
	assert.True(t, recurrence.IsRetryable(err))
	assert.Equal(t, 6, partial.Expected)
	assert.Equal(t, 3, partial.Created)
	assert.Equal(t, 3, partial.Missing())
	assert.Equal(t, series.ID, partial.SeriesID)
	assert.Len(t, series.Members, 2)

	run, err := fs.GetRun(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.RunPartial, run.Status)
	assert.Equal(t, "disk full", run.LastError)

	health, err := e.CheckSeries(ctx, series.ID)
	require.NoError(t, err)
	assert.True(t, health.Incomplete)
	assert.Equal(t, []int{4, 5, 6}, health.Missing)
}

func TestGenerate_ContextCancelledBetweenBatches(t *testing.T) {
	e, st := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	series, err := e.CreateSeries(ctx, rentTemplate(), date("2024-01-31"), recurrence.FrequencyMonthly, monthly(31))

	var partial *recurrence.PartialSeriesError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, partial.Created, "only the anchor was written")
	assert.Equal(t, 1, st.Len())

	run, err := st.GetRun(context.Background(), series.ID)
	require.NoError(t, err)
	assert.Equal(t, recurrence.RunPartial, run.Status, "the journal is updated even though ctx is done")
}
