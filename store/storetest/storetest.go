// Package storetest is the behavioural suite every recurrence store must
// pass. Backends call Run from their own tests with a constructor for a
// fresh, empty store.
package storetest

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// Backend is what Run needs from a store under test.
type Backend interface {
	recurrence.Store
	recurrence.StatusStore
	recurrence.RunStore
}

var at = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

func member(seriesID recurrence.SeriesID, parent recurrence.ObligationID, position int, due string) recurrence.Obligation {
	return recurrence.Obligation{
		ID:         recurrence.NewObligationID(),
		Kind:       recurrence.KindPayable,
		SeriesID:   seriesID,
		ParentID:   parent,
		Position:   position,
		SeriesSize: 3,
		DueDate:    recurrence.MustParseDate(due),
		Value:      decimal.RequireFromString("99.90"),
		Currency:   "BRL",
		Status:     recurrence.StatusPending,
		Rule:       recurrence.RecordOf(recurrence.Monthly{Day: 31}),
		Payee:      "Energy Co",
		Category:   "utilities",
		Attributes: map[string]string{"cost_center": "ops"},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// seed writes a three-member series, returned in position order.
func seed(t *testing.T, s Backend) []recurrence.Obligation {
	t.Helper()
	ctx := t.Context()
	sid := recurrence.NewSeriesID()
	anchor := member(sid, "", 1, "2024-01-31")
	rest := []recurrence.Obligation{
		member(sid, anchor.ID, 2, "2024-02-29"),
		member(sid, anchor.ID, 3, "2024-03-31"),
	}
	require.NoError(t, s.Create(ctx, anchor))
	require.NoError(t, s.CreateBatch(ctx, rest))
	return append([]recurrence.Obligation{anchor}, rest...)
}

// Run executes the suite. open must return an empty store and register its
// cleanup with t.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("create and get round trip", func(t *testing.T) {
		s := open(t)
		members := seed(t, s)

		got, err := s.Get(t.Context(), members[1].ID)
		require.NoError(t, err)
		want := members[1]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.SeriesID, got.SeriesID)
		assert.Equal(t, want.ParentID, got.ParentID)
		assert.Equal(t, 2, got.Position)
		assert.Equal(t, 3, got.SeriesSize)
		assert.Equal(t, "2024-02-29", got.DueDate.String())
		assert.True(t, want.Value.Equal(got.Value), "value %s", got.Value)
		assert.Equal(t, "BRL", got.Currency)
		assert.Equal(t, recurrence.StatusPending, got.Status)
		assert.Equal(t, want.Rule, got.Rule)
		assert.Equal(t, "Energy Co", got.Payee)
		assert.Equal(t, map[string]string{"cost_center": "ops"}, got.Attributes)
		assert.True(t, at.Equal(got.CreatedAt))
	})

	t.Run("standalone obligation", func(t *testing.T) {
		s := open(t)
		ob := member("", "", 0, "2024-05-01")
		require.NoError(t, s.Create(t.Context(), ob))
		other := member("", "", 0, "2024-05-02")
		require.NoError(t, s.Create(t.Context(), other), "standalone obligations share position 0")

		got, err := s.Get(t.Context(), ob.ID)
		require.NoError(t, err)
		assert.True(t, got.IsStandalone())
	})

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(t.Context(), "missing")
		assert.ErrorIs(t, err, recurrence.ErrNotFound)
	})

	t.Run("list series in due order", func(t *testing.T) {
		s := open(t)
		members := seed(t, s)
		seed(t, s)

		got, err := s.ListSeries(t.Context(), members[0].SeriesID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range got {
			assert.Equal(t, members[i].ID, got[i].ID)
		}

		none, err := s.ListSeries(t.Context(), "missing")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("duplicate position is rejected", func(t *testing.T) {
		s := open(t)
		members := seed(t, s)

		dup := member(members[0].SeriesID, members[0].ID, 2, "2024-02-29")
		err := s.Create(t.Context(), dup)
		assert.ErrorIs(t, err, recurrence.ErrDuplicatePosition)
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		s := open(t)
		members := seed(t, s)
		sid := members[0].SeriesID

		batch := []recurrence.Obligation{
			member(sid, members[0].ID, 4, "2024-04-30"),
			member(sid, members[0].ID, 3, "2024-03-31"),
		}
		err := s.CreateBatch(t.Context(), batch)
		assert.ErrorIs(t, err, recurrence.ErrDuplicatePosition)

		got, err := s.ListSeries(t.Context(), sid)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("update only while pending", func(t *testing.T) {
		s := open(t)
		ctx := t.Context()
		members := seed(t, s)

		next := members[0]
		next.Value = decimal.RequireFromString("120.00")
		next.Notes = "new tariff"
		next.Position = 9
		next.UpdatedAt = at.Add(time.Hour)
		applied, err := s.UpdatePending(ctx, next)
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := s.Get(ctx, members[0].ID)
		require.NoError(t, err)
		assert.True(t, got.Value.Equal(decimal.RequireFromString("120.00")))
		assert.Equal(t, "new tariff", got.Notes)
		assert.Equal(t, 1, got.Position, "placement is not editable")

		ok, err := s.Transition(ctx, members[1].ID, recurrence.StatusPending, recurrence.StatusPaid, at)
		require.NoError(t, err)
		require.True(t, ok)

		paid := members[1]
		paid.Value = decimal.Zero
		applied, err = s.UpdatePending(ctx, paid)
		require.NoError(t, err)
		assert.False(t, applied)

		got, err = s.Get(ctx, members[1].ID)
		require.NoError(t, err)
		assert.True(t, got.Value.Equal(members[1].Value))

		missing := member("", "", 0, "2024-01-01")
		_, err = s.UpdatePending(ctx, missing)
		assert.ErrorIs(t, err, recurrence.ErrNotFound)
	})

	t.Run("delete keeps paid", func(t *testing.T) {
		s := open(t)
		ctx := t.Context()
		members := seed(t, s)

		_, err := s.Transition(ctx, members[0].ID, recurrence.StatusPending, recurrence.StatusPaid, at)
		require.NoError(t, err)
		_, err = s.Transition(ctx, members[1].ID, recurrence.StatusPending, recurrence.StatusCancelled, at)
		require.NoError(t, err)

		applied, err := s.DeleteUnpaid(ctx, members[0].ID)
		require.NoError(t, err)
		assert.False(t, applied)

		applied, err = s.DeleteUnpaid(ctx, members[1].ID)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.DeleteUnpaid(ctx, members[1].ID)
		require.NoError(t, err)
		assert.False(t, applied, "already gone")

		// The freed position can be filled again.
		require.NoError(t, s.Create(ctx, member(members[0].SeriesID, members[0].ID, 2, "2024-02-29")))
	})

	t.Run("transition", func(t *testing.T) {
		s := open(t)
		ctx := t.Context()
		members := seed(t, s)

		ok, err := s.Transition(ctx, members[2].ID, recurrence.StatusPending, recurrence.StatusPaid, at.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Transition(ctx, members[2].ID, recurrence.StatusPending, recurrence.StatusCancelled, at)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Get(ctx, members[2].ID)
		require.NoError(t, err)
		assert.Equal(t, recurrence.StatusPaid, got.Status)

		_, err = s.Transition(ctx, "missing", recurrence.StatusPending, recurrence.StatusPaid, at)
		assert.ErrorIs(t, err, recurrence.ErrNotFound)
	})

	t.Run("generation runs", func(t *testing.T) {
		s := open(t)
		ctx := t.Context()

		run := recurrence.GenerationRun{
			SeriesID:  "s1",
			AnchorID:  "a1",
			Start:     recurrence.MustParseDate("2024-01-31"),
			Expected:  12,
			Created:   1,
			Status:    recurrence.RunInProgress,
			StartedAt: at,
			UpdatedAt: at,
		}
		require.NoError(t, s.SaveRun(ctx, run))

		run.Created = 5
		run.Status = recurrence.RunPartial
		run.LastError = "disk full"
		run.UpdatedAt = at.Add(time.Minute)
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 5, got.Created)
		assert.Equal(t, 12, got.Expected)
		assert.Equal(t, recurrence.RunPartial, got.Status)
		assert.Equal(t, "disk full", got.LastError)
		assert.Equal(t, "2024-01-31", got.Start.String())

		require.NoError(t, s.SaveRun(ctx, recurrence.GenerationRun{
			SeriesID: "s2", AnchorID: "a2", Expected: 3, Created: 3,
			Status: recurrence.RunComplete, StartedAt: at.Add(time.Hour), UpdatedAt: at.Add(time.Hour),
		}))

		partial, err := s.ListRuns(ctx, recurrence.RunPartial, recurrence.RunInProgress)
		require.NoError(t, err)
		require.Len(t, partial, 1)
		assert.Equal(t, recurrence.SeriesID("s1"), partial[0].SeriesID)

		all, err := s.ListRuns(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = s.GetRun(ctx, "missing")
		assert.ErrorIs(t, err, recurrence.ErrNotFound)
	})

	t.Run("engine round trip", func(t *testing.T) {
		s := open(t)
		ctx := t.Context()
		e := recurrence.New(s, recurrence.WithClock(func() time.Time { return at }))

		series, err := e.CreateSeries(ctx, member("", "", 0, "2024-01-31"), recurrence.MustParseDate("2024-01-31"),
			recurrence.FrequencyMonthly, recurrence.Params{DayOfMonth: recurrence.IntPtr(31)})
		require.NoError(t, err)

		_, err = e.MarkPaid(ctx, series.Members[0].ID)
		require.NoError(t, err)
		res, err := e.UpdateSeries(ctx, recurrence.UpdateRequest{
			SeriesID: series.ID, Scope: recurrence.ScopeAll,
			Patch: recurrence.Patch{Notes: mo.Some("indexed")},
		})
		require.NoError(t, err)
		assert.Equal(t, 11, res.Count())

		health, err := e.CheckSeries(ctx, series.ID)
		require.NoError(t, err)
		assert.False(t, health.Incomplete)
		assert.Equal(t, recurrence.RunComplete, health.Run)

		n, err := e.DeleteSeries(ctx, series.ID)
		require.NoError(t, err)
		assert.Equal(t, 11, n)
	})
}
