/*
Package lock provides recurrence.Locker implementations.

Series mutations and resumes take a per-series lock so two scoped edits of
the same series do not interleave. The lock is advisory: settlement
protection does not depend on it, because stores re-check status in every
write. It only keeps concurrent edits from mixing.

  Local  in-process, for a single server or the CLI
  Redis  SET NX PX with a random token, released by a compare-and-delete
         script; for several server replicas sharing one database
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// =============================================================================
// LOCAL
// =============================================================================

// Local serializes series within one process. Lock waits until the series
// is free or ctx is done. A series slot lives only while someone holds or
// waits for it.
type Local struct {
	mu    sync.Mutex
	slots map[recurrence.SeriesID]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

var _ recurrence.Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{slots: make(map[recurrence.SeriesID]*localSlot)}
}

func (l *Local) acquire(id recurrence.SeriesID) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	return s
}

func (l *Local) release(id recurrence.SeriesID, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *Local) Lock(ctx context.Context, id recurrence.SeriesID) (func(), error) {
	s := l.acquire(id)
	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(id, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(id, s)
		return nil, fmt.Errorf("%w: %s: %v", recurrence.ErrSeriesLocked, id, ctx.Err())
	}
}

// =============================================================================
// REDIS
// =============================================================================

// releaseScript deletes the key only if it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based distributed lock. A holder that crashes loses the
// lock after TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string

	TTL   time.Duration
	Retry time.Duration
	// Wait bounds how long Lock retries when ctx has no deadline.
	Wait time.Duration
}

var _ recurrence.Locker = (*Redis)(nil)

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		client: client,
		prefix: "recurrence:series-lock:",
		TTL:    30 * time.Second,
		Retry:  50 * time.Millisecond,
		Wait:   5 * time.Second,
	}
}

// NewRedisFromAddr connects to a single Redis node.
func NewRedisFromAddr(addr, password string, db int) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func (r *Redis) Lock(ctx context.Context, id recurrence.SeriesID) (func(), error) {
	if _, ok := ctx.Deadline(); !ok && r.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Wait)
		defer cancel()
	}

	key := r.prefix + string(id)
	token := uuid.NewString()
	ticker := time.NewTicker(r.Retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("redis lock %s: %w", id, err)
		}
		if ok {
			return r.unlocker(key, token), nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", recurrence.ErrSeriesLocked, id)
		}
	}
}

func (r *Redis) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Released with a fresh context: the caller's may be done.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		})
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
