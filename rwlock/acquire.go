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

	"go.uber.org/zap"
)

type kindOps struct {
	canEnter func(stateWord) bool
	target   func(stateWord) stateWord
}

var opsByKind = [...]kindOps{
	kindRead:         {canEnterRead, enterReadTarget},
	kindReadUpgrade:  {canEnterReadUpgrade, enterReadUpgradeTarget},
	kindWrite:        {canEnterWrite, enterWriteTarget},
	kindWriteUpgrade: {canEnterWriteUpgrade, enterWriteUpgradeTarget},
}

// attemptEnter is a single optimistic admission try: read the word
// once, and if the predicate holds, CAS once to the target. A false
// return means either the predicate didn't hold or the CAS lost the
// race; it never retries internally (spec.md §4.1).
func (o *Owner) attemptEnter(k kind) bool {
	ops := opsByKind[k]
	w := o.state.load()
	if !ops.canEnter(w) {
		return false
	}
	target := ops.target(w)
	if !o.state.cas(w, target) {
		return false
	}
	o.onAdmitted(k, target)
	return true
}

// attemptEnterQueued is the "post-enqueue" optimistic attempt (spec.md
// §4.2 step 5): exactly one predicate check and, on failure, an attempt
// to raise QueueChanged so a concurrent releaser knows to look at the
// queue.
func (o *Owner) attemptEnterQueued(k kind) bool {
	ops := opsByKind[k]
	w := o.state.load()
	if ops.canEnter(w) {
		target := ops.target(w)
		if o.state.cas(w, target) {
			o.onAdmitted(k, target)
			return true
		}
		return false
	}
	if target, ok := queuedTransition(k, w); ok {
		o.state.cas(w, target)
	}
	return false
}

// trySpinEnter is the bounded-contention optimistic path: it keeps
// retrying attemptEnter as long as the predicate still holds (i.e. the
// only reason we're failing is that we lost a CAS race), and gives up
// the moment the predicate itself goes false.
func (o *Owner) trySpinEnter(k kind) bool {
	ops := opsByKind[k]
	var spins int
	for {
		if o.attemptEnter(k) {
			return true
		}
		if !ops.canEnter(o.state.load()) {
			return false
		}
		backoff(&spins)
	}
}

func (o *Owner) onAdmitted(k kind, target stateWord) {
	if k.isRead() {
		o.metrics.setReaders(int64(readCount(target)))
	}
	o.logger.Debug("admitted waiter", zapKind(k))
}

// TryEnterRead attempts to acquire a shared read lock without waiting.
func (o *Owner) TryEnterRead() bool { return o.tryEnterNonBlocking(kindRead) }

// TryEnterReadUpgrade attempts to acquire the upgradable-shared lock
// without waiting.
func (o *Owner) TryEnterReadUpgrade() bool { return o.tryEnterNonBlocking(kindReadUpgrade) }

// TryEnterWrite attempts to acquire the exclusive write lock without
// waiting.
func (o *Owner) TryEnterWrite() bool { return o.tryEnterNonBlocking(kindWrite) }

// TryEnterWriteUpgrade attempts to convert an already-held upgradable
// read into the exclusive write-upgrade lock without waiting.
func (o *Owner) TryEnterWriteUpgrade() bool { return o.tryEnterNonBlocking(kindWriteUpgrade) }

func (o *Owner) tryEnterNonBlocking(k kind) bool {
	if o.disposed.Load() {
		return false
	}
	return o.trySpinEnter(k)
}

// EnterRead acquires a shared read lock, waiting up to timeout (a
// negative timeout waits forever, a zero timeout is the pure fast
// path: try once, never queue). ctx, if non-nil, cancels the wait.
func (o *Owner) EnterRead(ctx context.Context, timeout time.Duration) (bool, error) {
	return o.enter(ctx, timeout, kindRead)
}

// EnterReadUpgrade acquires the upgradable-shared lock.
func (o *Owner) EnterReadUpgrade(ctx context.Context, timeout time.Duration) (bool, error) {
	return o.enter(ctx, timeout, kindReadUpgrade)
}

// EnterWrite acquires the exclusive write lock.
func (o *Owner) EnterWrite(ctx context.Context, timeout time.Duration) (bool, error) {
	return o.enter(ctx, timeout, kindWrite)
}

// EnterWriteUpgrade converts the caller's already-held upgradable read
// into the exclusive write-upgrade lock. It must only be called by the
// holder of that upgradable read.
func (o *Owner) EnterWriteUpgrade(ctx context.Context, timeout time.Duration) (bool, error) {
	return o.enter(ctx, timeout, kindWriteUpgrade)
}

// enter is the shared contended-acquire path (spec.md §4.1, §4.2): try
// the optimistic fast path, then enqueue and park, closing the
// lost-wakeup window with a final post-enqueue optimistic attempt.
func (o *Owner) enter(ctx context.Context, timeout time.Duration, k kind) (bool, error) {
	if o.disposed.Load() {
		return false, wrapf(o.id, k, ErrDisposed)
	}
	if o.trySpinEnter(k) {
		return true, nil
	}
	if timeout == 0 {
		return false, nil // pure fast path: never queue
	}
	if ctx != nil && ctx.Err() != nil {
		return false, wrapf(o.id, k, ErrCancelled)
	}

	q := o.queueFor(k)
	now := o.clock.Now()
	deadline := deadlineFrom(now, timeout)
	n := getNode(k, deadline, o.runAsync)

	if q.count.Inc() > int64(MaxReadCount) {
		q.decr()
		o.reportQueueDepth(q)
		n.releaseUnused()
		o.logger.Warn("queue overflow", zapKind(k))
		return false, wrapf(o.id, k, ErrQueueOverflow)
	}
	o.reportQueueDepth(q)

	var spins int
	for !q.tryEnqueue(n) {
		if o.attemptEnter(k) {
			q.decr()
			o.reportQueueDepth(q)
			n.releaseUnused()
			return true, nil
		}
		backoff(&spins)
	}

	if o.attemptEnterQueued(k) {
		n.tryReleaseBeforeAcquired()
		return true, nil
	}

	n.registerCancel(ctx)
	success := <-n.result
	err := n.err
	n.release(1) // caller-reference
	if err != nil {
		return false, wrapf(o.id, k, err)
	}
	return success, nil
}

// ExitRead releases one shared read slot, per spec.md §4.6. Callers
// that acquired N reads in a batch may release them together.
func (o *Owner) ExitRead(n int64) { o.exitRead(n) }

// ExitReadUpgrade releases the upgradable-shared lock, clearing the
// Upgrade bit and dropping one reader in a single CAS.
func (o *Owner) ExitReadUpgrade() {
	var cleared stateWord
	for {
		w := o.state.load()
		assertf(hasUpgrade(w), "ExitReadUpgrade called without Upgrade bit set in %#x", w)
		cleared = withoutUpgrade(w - 1)
		if o.state.cas(w, cleared) {
			break
		}
	}
	o.metrics.setReaders(int64(readCount(cleared)))
	if readCount(cleared) == 0 && hasQueueChanged(cleared) {
		o.handoffToExclusive(cleared)
	}
}

// ExitWrite releases the exclusive write lock and runs the dispatcher
// directly, since the state word is still IsWrite at this point.
func (o *Owner) ExitWrite() {
	o.dequeueUnderExclusive()
}

// ExitWriteUpgrade releases the exclusive phase of an upgradable read,
// handing control back to Dequeue-Under-Exclusive with the Upgrade bit
// still set in the state word.
func (o *Owner) ExitWriteUpgrade() {
	o.dequeueUnderExclusive()
}

// Dispose cancels every queued waiter with ErrDisposed and prevents any
// future admission. Safe to call concurrently with in-flight Enter
// calls and safe to call more than once.
func (o *Owner) Dispose() {
	if !o.disposed.CAS(false, true) {
		return
	}
	o.logger.Warn("lock disposed", zap.Int64("default_queue_depth", o.defaultQueue.approxLen()), zap.Int64("elevated_queue_depth", o.elevatedQueue.approxLen()))
	drain := func(q *waiterQueue) {
		for {
			v, ok := q.tryDequeue()
			if !ok {
				continue
			}
			if v == nil {
				break
			}
			q.decr()
			if v.isPending() {
				v.resolveOutOfBand(ErrDisposed)
			}
			v.release(1)
		}
		o.reportQueueDepth(q)
	}
	drain(o.defaultQueue)
	drain(o.elevatedQueue)
}
