package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
	memstore "github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence/store"
)

// partialSeries leaves one rent series with seven missing members and a
// healed store.
func partialSeries(t *testing.T) (*testServer, *failingStore, recurrence.SeriesID) {
	t.Helper()
	st := &failingStore{Memory: memstore.NewMemory(), allow: 1, fail: errors.New("disk full")}
	s := newTestServer(t, st, RouterOptions{})
	rec := s.do(http.MethodPost, "/api/series", rentSeries)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	st.heal()
	return s, st, recurrence.SeriesID(decode[CreateSeriesResponse](t, rec).SeriesID)
}

func TestSweeper_RunNowResumes(t *testing.T) {
	// GIVEN: A partial series and a healed store
	// WHEN: A sweep runs
	// THEN: The series is completed and the journal is clean
	s, _, id := partialSeries(t)
	sw := NewSweeper(s.engine, nil)

	report := sw.RunNow(t.Context())
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Resumed)
	assert.Equal(t, 7, report.Created)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Finished.IsZero())
	assert.Equal(t, report, sw.LastReport())

	health, err := s.engine.CheckSeries(t.Context(), id)
	require.NoError(t, err)
	assert.False(t, health.Incomplete)

	again := sw.RunNow(t.Context())
	assert.Zero(t, again.Found)
}

func TestSweeper_ReportOnly(t *testing.T) {
	s, _, id := partialSeries(t)
	sw := NewSweeper(s.engine, nil)
	sw.Resume = false

	report := sw.RunNow(t.Context())
	assert.Equal(t, 1, report.Found)
	assert.Zero(t, report.Resumed)
	assert.Zero(t, report.Created)

	health, err := s.engine.CheckSeries(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, health.Incomplete)
}

func TestSweeper_PrunesLimiter(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})
	sw := NewSweeper(s.engine, nil)
	sw.Limiter = NewRateLimiter(1, 1)
	now := fixedNow
	sw.Limiter.now = func() time.Time { return now }
	sw.Limiter.limiterFor("192.0.2.1")
	now = now.Add(time.Hour)

	sw.RunNow(t.Context())
	assert.Empty(t, sw.Limiter.visitors)
}

func TestSweeper_StartAndStop(t *testing.T) {
	s, _, _ := partialSeries(t)

	disabled := NewSweeper(s.engine, nil)
	disabled.Interval = 0
	disabled.Start()
	disabled.Stop()
	assert.True(t, disabled.LastReport().Finished.IsZero())

	sw := NewSweeper(s.engine, nil)
	sw.Interval = time.Hour
	sw.Start()
	sw.Start()
	assert.Eventually(t, func() bool { return sw.LastReport().Resumed == 1 }, 2*time.Second, 10*time.Millisecond)
	sw.Stop()
	sw.Stop()
}
