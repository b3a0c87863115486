package recurrence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
	memstore "github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...recurrence.Option) (*recurrence.Engine, *memstore.Memory) {
	t.Helper()
	st := memstore.NewMemory()
	opts = append([]recurrence.Option{recurrence.WithClock(func() time.Time { return fixedNow })}, opts...)
	return recurrence.New(st, opts...), st
}

func date(s string) recurrence.Date {
	return recurrence.MustParseDate(s)
}

func dateStrings(ds []recurrence.Date) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func rentTemplate() recurrence.Obligation {
	return recurrence.Obligation{
		Kind:     recurrence.KindPayable,
		Value:    decimal.RequireFromString("1250.00"),
		Currency: "BRL",
		Payee:    "Landlord",
		Category: "rent",
	}
}

func monthly(day int) recurrence.Params {
	return recurrence.Params{DayOfMonth: recurrence.IntPtr(day)}
}

// createMonthly creates a monthly series of n members starting at start.
func createMonthly(t *testing.T, e *recurrence.Engine, start string, n int) recurrence.Series {
	t.Helper()
	e.Policy.Horizons[recurrence.FrequencyMonthly] = n
	e.Generator.Policy = e.Policy
	series, err := e.CreateSeries(context.Background(), rentTemplate(), date(start), recurrence.FrequencyMonthly, monthly(date(start).Day()))
	require.NoError(t, err)
	require.Len(t, series.All(), n)
	return series
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// flakyStore fails CreateBatch after allowBatches successful calls, and can
// settle a member right before the mutator writes it.
type flakyStore struct {
	*memstore.Memory

	mu           sync.Mutex
	allowBatches int
	batches      int
	failErr      error

	// payBeforeWrite is marked paid the first time UpdatePending or
	// DeleteUnpaid is called, simulating a concurrent payment.
	payBeforeWrite recurrence.ObligationID
}

func newFlakyStore(allowBatches int, failErr error) *flakyStore {
	return &flakyStore{Memory: memstore.NewMemory(), allowBatches: allowBatches, failErr: failErr}
}

func (f *flakyStore) CreateBatch(ctx context.Context, obs []recurrence.Obligation) error {
	f.mu.Lock()
	fail := f.failErr != nil && f.batches >= f.allowBatches
	f.batches++
	f.mu.Unlock()
	if fail {
		return f.failErr
	}
	return f.Memory.CreateBatch(ctx, obs)
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	f.failErr = nil
	f.mu.Unlock()
}

func (f *flakyStore) settleRace(ctx context.Context) {
	f.mu.Lock()
	id := f.payBeforeWrite
	f.payBeforeWrite = ""
	f.mu.Unlock()
	if id != "" {
		_, _ = f.Memory.Transition(ctx, id, recurrence.StatusPending, recurrence.StatusPaid, fixedNow)
	}
}

func (f *flakyStore) UpdatePending(ctx context.Context, ob recurrence.Obligation) (bool, error) {
	f.settleRace(ctx)
	return f.Memory.UpdatePending(ctx, ob)
}

func (f *flakyStore) DeleteUnpaid(ctx context.Context, id recurrence.ObligationID) (bool, error) {
	f.settleRace(ctx)
	return f.Memory.DeleteUnpaid(ctx, id)
}
