package vacuum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dijkstracula/go-rwlock/rwlock"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestOwnerVacuumRemovesExpiredWaiters(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	o, err := rwlock.New(rwlock.Config{TimeProvider: clock})
	require.NoError(t, err)

	ok, err := o.EnterWrite(context.Background(), -1)
	require.NoError(t, err)
	require.True(t, ok)

	// Vacuum leaves each queue's head to the dispatcher, so a live waiter
	// goes first and the expiring one queues behind it.
	go func() {
		_, _ = o.EnterRead(context.Background(), -1)
	}()
	time.Sleep(10 * time.Millisecond) // let the live waiter enqueue

	go func() {
		_, _ = o.EnterRead(context.Background(), 10*time.Millisecond)
	}()
	time.Sleep(10 * time.Millisecond) // let the goroutine enqueue

	clock.now = clock.now.Add(time.Hour)

	require.Eventually(t, func() bool {
		return o.Vacuum() == 1
	}, time.Second, 5*time.Millisecond)

	o.ExitWrite()
}

func TestSchedulerStartStop(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	o, err := rwlock.New(rwlock.Config{TimeProvider: clock})
	require.NoError(t, err)

	s := NewScheduler(o, 5*time.Millisecond, clock, nil)
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
