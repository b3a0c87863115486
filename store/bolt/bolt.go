// Package bolt is an embedded, single-file recurrence store on bbolt. It suits
// the CLI and single-node deployments that do not want a SQL server.
//
// bbolt allows one writer at a time and every Update is a serializable
// transaction, so the conditional writes need no extra locking.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// Bucket names.
const (
	BucketObligations = "obligations"
	BucketPositions   = "series_positions"
	BucketRuns        = "generation_runs"
)

type Store struct {
	db *bolt.DB
}

var (
	_ recurrence.StatusStore = (*Store)(nil)
	_ recurrence.RunStore    = (*Store)(nil)
)

// New opens (or creates) the database file and its buckets.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{BucketObligations, BucketPositions, BucketRuns} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// positionKey is series id, a NUL separator and the big-endian position, so
// a prefix scan returns one series in position order.
func positionKey(seriesID recurrence.SeriesID, position int) []byte {
	key := make([]byte, 0, len(seriesID)+5)
	key = append(key, seriesID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint32(key, uint32(position))
}

func seriesPrefix(seriesID recurrence.SeriesID) []byte {
	return append([]byte(seriesID), 0)
}

// =============================================================================
// OBLIGATION STORE (recurrence.Store interface)
// =============================================================================

func (s *Store) Create(_ context.Context, ob recurrence.Obligation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, ob)
	})
}

// CreateBatch writes all obligations in one bbolt transaction.
func (s *Store) CreateBatch(_ context.Context, obs []recurrence.Obligation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, ob := range obs {
			if err := put(tx, ob); err != nil {
				return err
			}
		}
		return nil
	})
}

func put(tx *bolt.Tx, ob recurrence.Obligation) error {
	obligations := tx.Bucket([]byte(BucketObligations))
	positions := tx.Bucket([]byte(BucketPositions))

	if ob.ID == "" {
		return fmt.Errorf("%w: id is required", recurrence.ErrInvalidObligation)
	}
	if obligations.Get([]byte(ob.ID)) != nil {
		return fmt.Errorf("%w: obligation %s already exists", recurrence.ErrInvalidObligation, ob.ID)
	}
	if ob.SeriesID != "" {
		key := positionKey(ob.SeriesID, ob.Position)
		if positions.Get(key) != nil {
			return fmt.Errorf("%w: series %s position %d", recurrence.ErrDuplicatePosition, ob.SeriesID, ob.Position)
		}
		if err := positions.Put(key, []byte(ob.ID)); err != nil {
			return err
		}
	}
	return write(obligations, ob)
}

func write(b *bolt.Bucket, ob recurrence.Obligation) error {
	data, err := json.Marshal(ob)
	if err != nil {
		return fmt.Errorf("failed to marshal obligation: %w", err)
	}
	return b.Put([]byte(ob.ID), data)
}

func read(b *bolt.Bucket, id recurrence.ObligationID) (recurrence.Obligation, bool, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return recurrence.Obligation{}, false, nil
	}
	var ob recurrence.Obligation
	if err := json.Unmarshal(data, &ob); err != nil {
		return ob, false, fmt.Errorf("failed to unmarshal obligation %s: %w", id, err)
	}
	return ob, true, nil
}

func (s *Store) Get(_ context.Context, id recurrence.ObligationID) (recurrence.Obligation, error) {
	var ob recurrence.Obligation
	err := s.db.View(func(tx *bolt.Tx) error {
		got, ok, err := read(tx.Bucket([]byte(BucketObligations)), id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("obligation %s: %w", id, recurrence.ErrNotFound)
		}
		ob = got
		return nil
	})
	return ob, err
}

func (s *Store) ListSeries(_ context.Context, seriesID recurrence.SeriesID) ([]recurrence.Obligation, error) {
	members := []recurrence.Obligation{}
	err := s.db.View(func(tx *bolt.Tx) error {
		obligations := tx.Bucket([]byte(BucketObligations))
		prefix := seriesPrefix(seriesID)
		c := tx.Bucket([]byte(BucketPositions)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			ob, ok, err := read(obligations, recurrence.ObligationID(v))
			if err != nil {
				return err
			}
			if ok {
				members = append(members, ob)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	recurrence.SortSeries(members)
	return members, nil
}

func (s *Store) UpdatePending(_ context.Context, ob recurrence.Obligation) (bool, error) {
	applied := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		obligations := tx.Bucket([]byte(BucketObligations))
		cur, ok, err := read(obligations, ob.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("obligation %s: %w", ob.ID, recurrence.ErrNotFound)
		}
		if cur.Status != recurrence.StatusPending {
			return nil
		}
		next := ob.Clone()
		next.SeriesID = cur.SeriesID
		next.ParentID = cur.ParentID
		next.Position = cur.Position
		next.SeriesSize = cur.SeriesSize
		next.Status = cur.Status
		next.CreatedAt = cur.CreatedAt
		applied = true
		return write(obligations, next)
	})
	return applied, err
}

func (s *Store) DeleteUnpaid(_ context.Context, id recurrence.ObligationID) (bool, error) {
	applied := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		obligations := tx.Bucket([]byte(BucketObligations))
		cur, ok, err := read(obligations, id)
		if err != nil || !ok || cur.Status == recurrence.StatusPaid {
			return err
		}
		if cur.SeriesID != "" {
			if err := tx.Bucket([]byte(BucketPositions)).Delete(positionKey(cur.SeriesID, cur.Position)); err != nil {
				return err
			}
		}
		applied = true
		return obligations.Delete([]byte(id))
	})
	return applied, err
}

func (s *Store) Transition(_ context.Context, id recurrence.ObligationID, from, to recurrence.Status, at time.Time) (bool, error) {
	applied := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		obligations := tx.Bucket([]byte(BucketObligations))
		cur, ok, err := read(obligations, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("obligation %s: %w", id, recurrence.ErrNotFound)
		}
		if cur.Status != from {
			return nil
		}
		cur.Status = to
		cur.UpdatedAt = at.UTC()
		applied = true
		return write(obligations, cur)
	})
	return applied, err
}

// =============================================================================
// GENERATION RUNS (recurrence.RunStore interface)
// =============================================================================

func (s *Store) SaveRun(_ context.Context, run recurrence.GenerationRun) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal generation run: %w", err)
		}
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(run.SeriesID), data)
	})
}

func (s *Store) GetRun(_ context.Context, seriesID recurrence.SeriesID) (recurrence.GenerationRun, error) {
	var run recurrence.GenerationRun
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(BucketRuns)).Get([]byte(seriesID))
		if data == nil {
			return fmt.Errorf("generation run %s: %w", seriesID, recurrence.ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	return run, err
}

func (s *Store) ListRuns(_ context.Context, statuses ...recurrence.RunStatus) ([]recurrence.GenerationRun, error) {
	want := make(map[recurrence.RunStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	runs := []recurrence.GenerationRun{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).ForEach(func(_, v []byte) error {
			var run recurrence.GenerationRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if len(want) == 0 || want[run.Status] {
				runs = append(runs, run)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].SeriesID < runs[j].SeriesID
	})
	return runs, nil
}
