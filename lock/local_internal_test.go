package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

func (l *Local) slotCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func TestLocal_ReleasesIdleSlots(t *testing.T) {
	// GIVEN: Many series locked and unlocked concurrently, some contended
	// WHEN: Every holder has unlocked
	// THEN: No slot is left behind
	l := NewLocal()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(id recurrence.SeriesID) {
				defer wg.Done()
				unlock, err := l.Lock(context.Background(), id)
				if !assert.NoError(t, err) {
					return
				}
				unlock()
				unlock()
			}(recurrence.SeriesID(fmt.Sprintf("s%d", i)))
		}
	}
	wg.Wait()
	assert.Zero(t, l.slotCount())
}

func TestLocal_TimedOutWaiterReleasesSlot(t *testing.T) {
	// GIVEN: A held series and a waiter whose context expires
	// WHEN: The waiter gives up and the holder unlocks
	// THEN: The slot is kept while held and dropped afterwards
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "s1")
	require.ErrorIs(t, err, recurrence.ErrSeriesLocked)
	assert.Equal(t, 1, l.slotCount())

	unlock()
	assert.Zero(t, l.slotCount())

	unlock, err = l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	unlock()
}
