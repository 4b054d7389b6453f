package rwlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// TestUncontendedRead is spec.md §8 Scenario A.
func TestUncontendedRead(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, err := o.EnterRead(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), o.GetState())

	o.ExitRead(1)
	assert.Equal(t, uint64(0), o.GetState())
}

// TestReaderSaturation is spec.md §8 Scenario B.
func TestReaderSaturation(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			ok, err := o.EnterRead(context.Background(), -1)
			require.NoError(t, err)
			require.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(3), o.GetState())

	o.ExitRead(3)
	assert.Equal(t, uint64(0), o.GetState())
}

// TestWriterWaitsForReader is spec.md §8 Scenario C.
func TestWriterWaitsForReader(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, err := o.EnterRead(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), o.GetState())

	writerDone := make(chan bool, 1)
	go func() {
		ok, err := o.EnterWrite(context.Background(), -1)
		require.NoError(t, err)
		writerDone <- ok
	}()

	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 1 }, time.Second, time.Millisecond)

	o.ExitRead(1)

	select {
	case ok := <-writerDone:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("writer was never admitted after the sole reader exited")
	}
	assert.True(t, isWrite(o.GetState()))

	o.ExitWrite()
	assert.Equal(t, uint64(0), o.GetState())
}

// TestUpgradeWithSiblingReaders is spec.md §8 Scenario D.
func TestUpgradeWithSiblingReaders(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, err := o.EnterReadUpgrade(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stateWord(1), readCount(o.GetState()))
	assert.True(t, hasUpgrade(o.GetState()))

	ok, err = o.EnterRead(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stateWord(2), readCount(o.GetState()))
	assert.True(t, hasUpgrade(o.GetState()))

	ok, err = o.EnterWriteUpgrade(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, ok, "write-upgrade must not be admitted while a sibling reader remains")

	upgradeDone := make(chan bool, 1)
	go func() {
		ok, err := o.EnterWriteUpgrade(context.Background(), -1)
		require.NoError(t, err)
		upgradeDone <- ok
	}()
	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() >= 1 || isWrite(o.GetState()) }, time.Second, time.Millisecond)

	o.ExitRead(1) // the sibling drains
	assert.Equal(t, stateWord(1), readCount(o.GetState()))

	select {
	case ok := <-upgradeDone:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("write-upgrade was never admitted once the sibling reader exited")
	}
	assert.True(t, isWrite(o.GetState()))
	assert.True(t, hasUpgrade(o.GetState()))

	o.ExitWriteUpgrade()
	assert.Equal(t, stateWord(1), readCount(o.GetState()))
	assert.True(t, hasUpgrade(o.GetState()))

	o.ExitReadUpgrade()
	assert.Equal(t, uint64(0), o.GetState())
}

// TestCancellationMidWait is spec.md §8 Scenario E.
func TestCancellationMidWait(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, err := o.EnterWrite(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	readerErr := make(chan error, 1)
	go func() {
		_, err := o.EnterRead(ctx, -1)
		readerErr <- err
	}()

	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-readerErr:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("cancelled reader never resolved")
	}

	o.ExitWrite()
	assert.Equal(t, uint64(0), o.GetState())
}

// TestWriteElevation is spec.md §8 Scenario F.
func TestWriteElevation(t *testing.T) {
	o, err := New(Config{ElevateWriteQueue: true})
	require.NoError(t, err)

	ok, err := o.EnterWrite(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	order := make(chan string, 2)
	go func() {
		_, _ = o.EnterRead(context.Background(), -1)
		order <- "reader"
	}()
	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 1 }, time.Second, time.Millisecond)

	go func() {
		_, _ = o.EnterWrite(context.Background(), -1)
		order <- "writer"
		o.ExitWrite()
	}()
	require.Eventually(t, func() bool { return o.elevatedQueue.approxLen() == 1 }, time.Second, time.Millisecond)

	o.ExitWrite()

	first := <-order
	assert.Equal(t, "writer", first, "the elevated-queue writer must be admitted before the default-queue reader")
	second := <-order
	assert.Equal(t, "reader", second)
}

// TestDisposeFailsQueuedWaiters is invariant 6.
func TestDisposeFailsQueuedWaiters(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, err := o.EnterWrite(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	readerErr := make(chan error, 1)
	go func() {
		_, err := o.EnterRead(context.Background(), -1)
		readerErr <- err
	}()
	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 1 }, time.Second, time.Millisecond)

	o.Dispose()

	select {
	case err := <-readerErr:
		assert.ErrorIs(t, err, ErrDisposed)
	case <-time.After(time.Second):
		t.Fatal("queued waiter never resolved after Dispose")
	}

	_, err = o.EnterRead(context.Background(), 0)
	assert.ErrorIs(t, err, ErrDisposed)

	o.ExitWrite()
}

// TestRoundTripBalancedEnterExit is invariant 8.
func TestRoundTripBalancedEnterExit(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, _ := o.EnterRead(context.Background(), 0)
	require.True(t, ok)
	ok, _ = o.EnterRead(context.Background(), 0)
	require.True(t, ok)
	o.ExitRead(2)
	assert.Equal(t, uint64(0), o.GetState())

	ok, _ = o.EnterWrite(context.Background(), 0)
	require.True(t, ok)
	o.ExitWrite()
	assert.Equal(t, uint64(0), o.GetState())

	ok, _ = o.EnterReadUpgrade(context.Background(), 0)
	require.True(t, ok)
	ok, _ = o.EnterWriteUpgrade(context.Background(), 0)
	require.True(t, ok)
	o.ExitWriteUpgrade()
	o.ExitReadUpgrade()
	assert.Equal(t, uint64(0), o.GetState())
}

// TestNoTwoWritersAdmittedSimultaneously is invariant 9, driven under
// heavy contention rather than asserted structurally.
func TestNoTwoWritersAdmittedSimultaneously(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	var active atomic.Int32
	var wg sync.WaitGroup
	const writers = 8
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ok, err := o.EnterWrite(context.Background(), time.Second)
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, int32(1), active.Inc())
				active.Dec()
				o.ExitWrite()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(0), o.GetState())
}

// TestQueueOverflowFailsFast is the invalid-operation/backpressure path
// of spec.md §4.2 step 3 and §7 ErrQueueOverflow.
func TestQueueOverflowFailsFast(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, err := o.EnterWrite(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	o.defaultQueue.count.Store(int64(MaxReadCount))

	_, err = o.EnterRead(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrQueueOverflow)

	o.ExitWrite()
}

// TestDispatchChainScanReordersAroundInteriorWrite exercises the
// "dequeue a write or a chain of reads" requeue path (dispatch.go
// dequeueChain/stopScan, roughly lines 174-211): a write enqueued
// between two reads must be skipped and requeued at the tail rather
// than selected. The first release admits both reads (the QueueChanged
// retry picks up the second one), and the write is admitted only once
// both have exited.
func TestDispatchChainScanReordersAroundInteriorWrite(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, err := o.EnterWrite(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	r1Done := make(chan bool, 1)
	go func() {
		ok, err := o.EnterRead(context.Background(), -1)
		require.NoError(t, err)
		r1Done <- ok
	}()
	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 1 }, time.Second, time.Millisecond)

	wDone := make(chan bool, 1)
	go func() {
		ok, err := o.EnterWrite(context.Background(), -1)
		require.NoError(t, err)
		wDone <- ok
	}()
	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 2 }, time.Second, time.Millisecond)

	r2Done := make(chan bool, 1)
	go func() {
		ok, err := o.EnterRead(context.Background(), -1)
		require.NoError(t, err)
		r2Done <- ok
	}()
	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 3 }, time.Second, time.Millisecond)

	// First release: the chain scan must admit the read at the head and
	// requeue the interior write rather than stall behind it; the retry
	// after clearing QueueChanged adds the second read to the same batch.
	o.ExitWrite()
	select {
	case ok := <-r1Done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("first read was never admitted past the interior write")
	}
	select {
	case <-wDone:
		t.Fatal("write must not be admitted in the same pass as a selected read")
	case <-time.After(20 * time.Millisecond):
	}

	// Second release: the first read exits; the second read, admitted in
	// the same batch, still holds the lock, so the write keeps waiting.
	o.ExitRead(1)
	select {
	case ok := <-r2Done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("second read was never admitted after the first drained")
	}
	select {
	case <-wDone:
		t.Fatal("write must not be admitted while the second read was still pending")
	case <-time.After(20 * time.Millisecond):
	}

	// Third release: only the write is left in the queue, so it is
	// finally admitted.
	o.ExitRead(1)
	select {
	case ok := <-wDone:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("write was never admitted once both reads had drained")
	}
	assert.True(t, isWrite(o.GetState()))

	o.ExitWrite()
	assert.Equal(t, uint64(0), o.GetState())
}

// TestDispatchChainScanSkipsParityMismatchedWriteAtHead exercises the
// upgrade-parity branch of the chain scan (dispatch.go dequeueChain,
// roughly lines 174-191): a queued write-upgrade node sitting at the
// head while the lock's own Upgrade bit is unset can never be admitted
// as the selected writer (no real upgradable reader ever took the
// lock), so the dispatcher must treat it exactly like an ordinary
// inadmissible write and keep scanning past it for the read behind it.
func TestDispatchChainScanSkipsParityMismatchedWriteAtHead(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)

	ok, err := o.EnterWrite(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancelUpgrade := context.WithCancel(context.Background())
	upgradeErr := make(chan error, 1)
	go func() {
		_, err := o.EnterWriteUpgrade(ctx, -1)
		upgradeErr <- err
	}()
	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 1 }, time.Second, time.Millisecond)

	readDone := make(chan bool, 1)
	go func() {
		ok, err := o.EnterRead(context.Background(), -1)
		require.NoError(t, err)
		readDone <- ok
	}()
	require.Eventually(t, func() bool { return o.defaultQueue.approxLen() == 2 }, time.Second, time.Millisecond)

	o.ExitWrite()

	select {
	case ok := <-readDone:
		assert.True(t, ok, "the read behind the parity-mismatched write must still be admitted")
	case <-time.After(time.Second):
		t.Fatal("read was never admitted past the mismatched write-upgrade")
	}
	assert.False(t, hasUpgrade(o.GetState()), "no real upgradable reader ever took the lock")

	cancelUpgrade()
	select {
	case err := <-upgradeErr:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("queued write-upgrade never resolved after cancellation")
	}

	o.ExitRead(1)
	assert.Equal(t, uint64(0), o.GetState())
}
