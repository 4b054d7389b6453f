// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package rwlock

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

type nodeState int32

const (
	nodePending nodeState = iota
	nodeCompleted
	nodeFailed
	nodeDeadborn
)

// node is a pooled waiter record. It is rented from a per-kind pool
// (pool.go), optionally enqueued onto one of the lock's two waiter
// queues (queue.go), and parked on by the caller until it resolves to
// Completed, Failed or Deadborn. Every field is touched only through
// atomics or CAS; a node is never protected by a blocking lock.
//
// Completed covers both outcomes of the ordinary admission protocol:
// successfully admitted, or dequeued/vacuumed past its deadline with no
// error. Failed is reserved for the two conditions with an attached
// error: external cancellation and disposal.
type node struct {
	kind     kind
	deadline time.Time // zero means no deadline (infinite wait)

	refCount atomic.Int32
	state    atomic.Int32

	result  chan bool
	err     error
	stopCtx func() bool

	// async mirrors Config.RunContinuationsAsynchronously for the
	// lock this node was rented from: when set, publishing the result
	// is dispatched to its own goroutine instead of running inline on
	// the completing releaser's goroutine (spec.md §6.2).
	async bool

	next atomic.Pointer[node]

	// version guards pool reuse: each call to reset bumps it, and a
	// node whose version saturates is dropped instead of recycled (see
	// pool.go), matching the saturating result-channel version number
	// spec.md §4.7 describes.
	version uint32
}

func newNode() *node {
	return &node{result: make(chan bool, 1)}
}

// reset prepares a rented node for a new wait. Returns false if the
// node's version has saturated, meaning it must be discarded instead of
// reused.
func (n *node) reset(k kind, deadline time.Time, async bool) bool {
	if n.version == ^uint32(0) {
		return false
	}
	n.version++
	n.kind = k
	n.deadline = deadline
	n.async = async
	n.err = nil
	n.stopCtx = nil
	n.next.Store(nil)
	n.refCount.Store(2) // queue-reference + caller-reference
	n.state.Store(int32(nodePending))
	// Drain any stale value left by a prior cycle; reset only ever runs
	// while the node is owned exclusively by the pool, so this cannot
	// race with a concurrent sender.
	select {
	case <-n.result:
	default:
	}
	return true
}

func (n *node) isPending() bool {
	return nodeState(n.state.Load()) == nodePending
}

func (n *node) deadlineElapsed(now time.Time) bool {
	return !n.deadline.IsZero() && !now.Before(n.deadline)
}

// registerCancel arms ctx as this node's cancellation source. Firing
// transitions the node to Failed with ErrCancelled, exactly like a
// losing race against a timeout or a releaser, but never releases the
// node's queue-reference: the node stays in the queue until it is
// vacuumed or skipped at dequeue, per spec.md §5.
func (n *node) registerCancel(ctx context.Context) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	n.stopCtx = context.AfterFunc(ctx, func() {
		n.resolveOutOfBand(ErrCancelled)
	})
}

// resolveOutOfBand fails the node from outside the dequeue/vacuum path
// (cancellation or disposal). It deliberately does not touch refCount:
// the node may still be linked into a queue, and that queue-reference
// is released later, when checkQueueCanHold encounters the now-resolved
// node during a dequeue or vacuum pass.
func (n *node) resolveOutOfBand(err error) bool {
	if !n.state.CAS(int32(nodePending), int32(nodeFailed)) {
		return false
	}
	n.err = err
	n.unregisterCancel()
	n.publish(false)
	return true
}

// publish delivers success on the result channel, either inline on the
// caller's goroutine or, when the owning lock was configured with
// RunContinuationsAsynchronously, on a freshly spawned one. The channel
// is buffered to depth one, so this never blocks either way; async
// dispatch exists so a slow or misbehaving waiter wakeup can never
// stall the releaser that is completing it.
func (n *node) publish(success bool) {
	if n.async {
		go func() { n.result <- success }()
		return
	}
	n.result <- success
}

// tryReleaseBeforeAcquired marks the node Deadborn: the acquirer raced
// an admitting releaser and took the lock optimistically after
// enqueueing, so the node must never be consumed by the dispatcher. The
// caller-reference is released immediately since the caller will not
// park on the result channel; the queue-reference is released later,
// when the dispatcher or the vacuum pass encounters the dead node.
func (n *node) tryReleaseBeforeAcquired() bool {
	if !n.state.CAS(int32(nodePending), int32(nodeDeadborn)) {
		return false
	}
	n.unregisterCancel()
	n.release(1)
	return true
}

// releaseUnused discards a node that was rented but never enqueued
// (the optimistic path won the race before TryEnqueue ever ran). Since
// no dispatcher will ever visit it, both references are dropped here.
// The state transition is still a CAS, not an unconditional store, per
// the open question in spec.md §9: a concurrent cancellation callback
// must never be clobbered.
func (n *node) releaseUnused() {
	n.state.CAS(int32(nodePending), int32(nodeDeadborn))
	n.unregisterCancel()
	n.release(2)
}

// tryCompleteAcquired resolves a node the dispatcher or vacuum pass has
// already physically removed from its queue, either admitting it
// (success) or completing it as not-acquired past its deadline
// (!success). It reports whether this call won the transition; a loss
// means the node had already raced to Failed via cancellation, and the
// caller must treat the reservation as a phantom (spec.md §4.6).
func (n *node) tryCompleteAcquired(success bool) bool {
	won := n.state.CAS(int32(nodePending), int32(nodeCompleted))
	if won {
		n.unregisterCancel()
		n.publish(success)
	}
	n.release(1) // queue-reference: the node is already out of its queue.
	return won
}

// checkQueueCanHold is invoked while scanning the queue during dequeue
// or vacuum, on a node that has just been physically removed. If the
// deadline has elapsed, the node is completed as "not acquired".
// Otherwise, if it is no longer pending (already cancelled), its
// queue-reference is simply dropped. Returns whether the node is still
// pending and therefore eligible for admission.
func (n *node) checkQueueCanHold(now time.Time) bool {
	if n.deadlineElapsed(now) {
		n.tryCompleteAcquired(false)
		return false
	}
	if !n.isPending() {
		n.release(1)
		return false
	}
	return true
}

func (n *node) unregisterCancel() {
	if n.stopCtx != nil {
		n.stopCtx()
		n.stopCtx = nil
	}
}

// release drops m references. When the count reaches zero the node is
// returned to its kind's pool. refCount must never go negative; that is
// a contract violation in the caller, not a recoverable race.
func (n *node) release(m int32) {
	v := n.refCount.Sub(m)
	if v < 0 {
		panic("rwlock: node refCount went negative")
	}
	if v == 0 {
		putNode(n)
	}
}
