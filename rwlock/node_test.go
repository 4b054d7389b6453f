package rwlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeResetBumpsVersionAndDrainsStaleResult(t *testing.T) {
	n := newNode()
	n.result <- true // simulate a stale value left by a prior cycle

	v0 := n.version
	require.True(t, n.reset(kindRead, time.Time{}, false))
	assert.Equal(t, v0+1, n.version)
	assert.Equal(t, int32(2), n.refCount.Load())
	assert.True(t, n.isPending())

	select {
	case <-n.result:
		t.Fatal("reset must drain any stale result left in the channel")
	default:
	}
}

func TestNodeResetRefusesAtVersionSaturation(t *testing.T) {
	n := newNode()
	n.version = ^uint32(0)
	assert.False(t, n.reset(kindRead, time.Time{}, false))
}

func TestNodeTryCompleteAcquiredIsOneShot(t *testing.T) {
	n := newNode()
	require.True(t, n.reset(kindRead, time.Time{}, false))

	assert.True(t, n.tryCompleteAcquired(true))
	assert.False(t, n.tryCompleteAcquired(false), "a second completion must lose the CAS")
	assert.True(t, <-n.result)
}

func TestNodeDeadbornNeverConsumedByDequeue(t *testing.T) {
	n := newNode()
	require.True(t, n.reset(kindRead, time.Time{}, false))
	require.True(t, n.tryReleaseBeforeAcquired())

	assert.False(t, n.isPending())
	assert.False(t, n.checkQueueCanHold(time.Now()), "a deadborn node must never be held admissible")
}

func TestNodeReleaseUnusedIsCASNotOverwrite(t *testing.T) {
	n := newNode()
	require.True(t, n.reset(kindRead, time.Time{}, false))

	// A concurrent cancellation callback wins the race first.
	assert.True(t, n.resolveOutOfBand(ErrCancelled))

	// releaseUnused must not clobber the already-Failed state (spec.md
	// §9 open question): its CAS loses, but it still must drop both
	// references so the node returns to the pool.
	n.releaseUnused()
	assert.Equal(t, nodeFailed, nodeState(n.state.Load()))
}

func TestNodeCheckQueueCanHoldDeadlineElapsed(t *testing.T) {
	n := newNode()
	past := time.Now().Add(-time.Minute)
	require.True(t, n.reset(kindRead, past, false))

	held := n.checkQueueCanHold(time.Now())
	assert.False(t, held)
	assert.False(t, <-n.result)
}

func TestNodeCheckQueueCanHoldStillPending(t *testing.T) {
	n := newNode()
	require.True(t, n.reset(kindRead, time.Time{}, false))

	held := n.checkQueueCanHold(time.Now())
	assert.True(t, held)
}

func TestNodeCancellationResolvesFuture(t *testing.T) {
	n := newNode()
	require.True(t, n.reset(kindRead, time.Time{}, false))

	ctx, cancel := context.WithCancel(context.Background())
	n.registerCancel(ctx)
	cancel()

	require.Eventually(t, func() bool { return !n.isPending() }, time.Second, time.Millisecond)
	assert.False(t, <-n.result)
	assert.ErrorIs(t, n.err, ErrCancelled)
}

func TestNodeReleaseToZeroReturnsToPool(t *testing.T) {
	n := newNode()
	require.True(t, n.reset(kindRead, time.Time{}, false))
	assert.Equal(t, int32(2), n.refCount.Load())

	n.release(1)
	assert.Equal(t, int32(1), n.refCount.Load())
	n.release(1)
	assert.Equal(t, int32(0), n.refCount.Load())
}

func TestNodeReleaseBelowZeroPanics(t *testing.T) {
	n := newNode()
	require.True(t, n.reset(kindRead, time.Time{}, false))
	n.release(2)
	assert.Panics(t, func() { n.release(1) })
}
