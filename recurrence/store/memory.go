// Package store provides the in-memory recurrence.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements recurrence.Store, StatusStore and RunStore. Every method
// holds the mutex for its whole duration, which gives the per-row atomicity
// the conditional writes need.
type Memory struct {
	mu          sync.RWMutex
	obligations map[recurrence.ObligationID]recurrence.Obligation
	bySeries    map[recurrence.SeriesID]map[recurrence.ObligationID]struct{}
	positions   map[position]recurrence.ObligationID
	runs        map[recurrence.SeriesID]recurrence.GenerationRun
}

type position struct {
	SeriesID recurrence.SeriesID
	Position int
}

var (
	_ recurrence.StatusStore = (*Memory)(nil)
	_ recurrence.RunStore    = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		obligations: make(map[recurrence.ObligationID]recurrence.Obligation),
		bySeries:    make(map[recurrence.SeriesID]map[recurrence.ObligationID]struct{}),
		positions:   make(map[position]recurrence.ObligationID),
		runs:        make(map[recurrence.SeriesID]recurrence.GenerationRun),
	}
}

func (m *Memory) Create(_ context.Context, ob recurrence.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ob); err != nil {
		return err
	}
	m.insertLocked(ob)
	return nil
}

// CreateBatch adds obligations atomically: either all are written or none.
func (m *Memory) CreateBatch(_ context.Context, obs []recurrence.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[position]bool, len(obs))
	for _, ob := range obs {
		if err := m.checkLocked(ob); err != nil {
			return err
		}
		if ob.SeriesID != "" {
			p := position{ob.SeriesID, ob.Position}
			if seen[p] {
				return fmt.Errorf("%w: series %s position %d", recurrence.ErrDuplicatePosition, ob.SeriesID, ob.Position)
			}
			seen[p] = true
		}
	}
	for _, ob := range obs {
		m.insertLocked(ob)
	}
	return nil
}

func (m *Memory) checkLocked(ob recurrence.Obligation) error {
	if ob.ID == "" {
		return fmt.Errorf("%w: id is required", recurrence.ErrInvalidObligation)
	}
	if _, ok := m.obligations[ob.ID]; ok {
		return fmt.Errorf("%w: obligation %s already exists", recurrence.ErrInvalidObligation, ob.ID)
	}
	if ob.SeriesID != "" {
		if _, ok := m.positions[position{ob.SeriesID, ob.Position}]; ok {
			return fmt.Errorf("%w: series %s position %d", recurrence.ErrDuplicatePosition, ob.SeriesID, ob.Position)
		}
	}
	return nil
}

func (m *Memory) insertLocked(ob recurrence.Obligation) {
	ob = ob.Clone()
	m.obligations[ob.ID] = ob
	if ob.SeriesID == "" {
		return
	}
	members, ok := m.bySeries[ob.SeriesID]
	if !ok {
		members = make(map[recurrence.ObligationID]struct{})
		m.bySeries[ob.SeriesID] = members
	}
	members[ob.ID] = struct{}{}
	m.positions[position{ob.SeriesID, ob.Position}] = ob.ID
}

func (m *Memory) Get(_ context.Context, id recurrence.ObligationID) (recurrence.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ob, ok := m.obligations[id]
	if !ok {
		return recurrence.Obligation{}, fmt.Errorf("obligation %s: %w", id, recurrence.ErrNotFound)
	}
	return ob.Clone(), nil
}

func (m *Memory) ListSeries(_ context.Context, seriesID recurrence.SeriesID) ([]recurrence.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]recurrence.Obligation, 0, len(m.bySeries[seriesID]))
	for id := range m.bySeries[seriesID] {
		result = append(result, m.obligations[id].Clone())
	}
	recurrence.SortSeries(result)
	return result, nil
}

// UpdatePending replaces the record when it is still pending. Identity and
// series placement are kept from the stored record.
func (m *Memory) UpdatePending(_ context.Context, ob recurrence.Obligation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.obligations[ob.ID]
	if !ok {
		return false, fmt.Errorf("obligation %s: %w", ob.ID, recurrence.ErrNotFound)
	}
	if cur.Status != recurrence.StatusPending {
		return false, nil
	}
	next := ob.Clone()
	next.SeriesID = cur.SeriesID
	next.ParentID = cur.ParentID
	next.Position = cur.Position
	next.SeriesSize = cur.SeriesSize
	next.Status = cur.Status
	next.CreatedAt = cur.CreatedAt
	m.obligations[ob.ID] = next
	return true, nil
}

// DeleteUnpaid reports applied=false for a missing id: another caller
// already removed it.
func (m *Memory) DeleteUnpaid(_ context.Context, id recurrence.ObligationID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.obligations[id]
	if !ok || cur.Status == recurrence.StatusPaid {
		return false, nil
	}
	delete(m.obligations, id)
	if cur.SeriesID != "" {
		delete(m.bySeries[cur.SeriesID], id)
		if len(m.bySeries[cur.SeriesID]) == 0 {
			delete(m.bySeries, cur.SeriesID)
		}
		delete(m.positions, position{cur.SeriesID, cur.Position})
	}
	return true, nil
}

func (m *Memory) Transition(_ context.Context, id recurrence.ObligationID, from, to recurrence.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.obligations[id]
	if !ok {
		return false, fmt.Errorf("obligation %s: %w", id, recurrence.ErrNotFound)
	}
	if cur.Status != from {
		return false, nil
	}
	cur.Status = to
	cur.UpdatedAt = at
	m.obligations[id] = cur
	return true, nil
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run recurrence.GenerationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.SeriesID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, seriesID recurrence.SeriesID) (recurrence.GenerationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[seriesID]
	if !ok {
		return recurrence.GenerationRun{}, fmt.Errorf("generation run %s: %w", seriesID, recurrence.ErrNotFound)
	}
	return run, nil
}

// ListRuns returns runs oldest first. No statuses means all runs.
func (m *Memory) ListRuns(_ context.Context, statuses ...recurrence.RunStatus) ([]recurrence.GenerationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[recurrence.RunStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	result := make([]recurrence.GenerationRun, 0, len(m.runs))
	for _, run := range m.runs {
		if len(want) == 0 || want[run.Status] {
			result = append(result, run)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].SeriesID < result[j].SeriesID
	})
	return result, nil
}

// Len is the number of stored obligations.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.obligations)
}
