/*
scheduler.go - Background sweep of incomplete series

PURPOSE:
  Periodically lists generations that did not finish (partial, or stuck
  in_progress past the grace period) and resumes them, so a crash between
  the anchor write and the last member write heals without an operator.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - Each series is resumed under the series lock; a locked series is left
    for the next tick
  - With Resume disabled the sweep only reports

CONFIGURATION:
  - Interval: How often to sweep (RECURRENCE_SWEEP_INTERVAL, default 10m)
  - Resume:   Whether to create missing members or only log them

USAGE:
  sweeper := NewSweeper(engine, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: POST /api/series/{id}/resume (manual resume)
  - recurrence/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// SweepReport summarizes one sweep.
type SweepReport struct {
	Found    int
	Resumed  int
	Created  int
	Locked   int
	Failed   int
	Finished time.Time
}

// Sweeper resumes incomplete series on a timer.
type Sweeper struct {
	Engine   *recurrence.Engine
	Logger   *slog.Logger
	Interval time.Duration
	Resume   bool

	// Limiter, when set, has its idle clients pruned on every tick.
	Limiter *RateLimiter

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   SweepReport
}

// NewSweeper creates a sweeper that resumes every 10 minutes.
func NewSweeper(engine *recurrence.Engine, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = engine.Logger
	}
	return &Sweeper{
		Engine:   engine,
		Logger:   logger.With("component", "sweeper"),
		Interval: 10 * time.Minute,
		Resume:   true,
	}
}

// Start begins the sweeper. A non-positive interval leaves it stopped.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Logger.Info("sweeper disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.Info("sweeper started", "interval", s.Interval, "resume", s.Resume)
}

// Stop stops the sweeper and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.Logger.Info("sweeper stopped")
}

func (s *Sweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously.
func (s *Sweeper) RunNow(ctx context.Context) SweepReport {
	var report SweepReport
	if s.Limiter != nil {
		s.Limiter.Prune()
	}

	runs, err := s.Engine.Reconciler.IncompleteRuns(ctx)
	if err != nil {
		s.Logger.ErrorContext(ctx, "failed to list incomplete runs", "error", err)
		report.Failed++
		return s.record(report)
	}
	report.Found = len(runs)

	for _, run := range runs {
		if ctx.Err() != nil {
			break
		}
		if !s.Resume {
			s.Logger.WarnContext(ctx, "incomplete series",
				"series_id", run.SeriesID, "status", run.Status,
				"expected", run.Expected, "created", run.Created)
			continue
		}

		created, err := s.Engine.ResumeSeries(ctx, run.SeriesID)
		report.Created += len(created)
		switch {
		case errors.Is(err, recurrence.ErrSeriesLocked):
			report.Locked++
		case err != nil:
			report.Failed++
			s.Logger.ErrorContext(ctx, "failed to resume series",
				"series_id", run.SeriesID, "error", err)
		default:
			report.Resumed++
		}
	}

	if report.Found > 0 {
		s.Logger.InfoContext(ctx, "sweep completed",
			"found", report.Found, "resumed", report.Resumed, "created", report.Created,
			"locked", report.Locked, "failed", report.Failed)
	}
	return s.record(report)
}

func (s *Sweeper) record(report SweepReport) SweepReport {
	report.Finished = time.Now()
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report
}

// LastReport returns the outcome of the most recent sweep.
func (s *Sweeper) LastReport() SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
