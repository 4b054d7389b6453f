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
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Owner constructs and holds one lock instance: its state word, its two
// waiter queues, its configuration, and the entry/exit operations
// external adapters (handle, blocking, vacuum, cmd/rwlockctl) are built
// on top of (spec.md §2 component 6).
type Owner struct {
	id string

	state rawState

	defaultQueue  *waiterQueue
	elevatedQueue *waiterQueue
	mode          elevationMode

	clock   TimeProvider
	logger  *zap.Logger
	metrics *metrics

	runAsync bool
	disposed atomic.Bool
}

// New constructs a lock instance. Configuration errors (mutually
// exclusive elevation modes, a non-positive vacuum interval) surface
// here, never from a later Enter call, per spec.md §6.2.
func New(cfg Config) (*Owner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	m := newMetrics(id)
	m.register(cfg.Registerer)
	o := &Owner{
		id:            id,
		defaultQueue:  &waiterQueue{name: "default"},
		elevatedQueue: &waiterQueue{name: "elevated"},
		mode:          cfg.mode(),
		clock:         cfg.clock(),
		logger:        cfg.logger().With(zap.String("lock_id", id)),
		metrics:       m,
		runAsync:      cfg.RunContinuationsAsynchronously,
	}
	return o, nil
}

// ID returns the lock's instance identifier, used to correlate its log
// lines and metric labels.
func (o *Owner) ID() string { return o.id }

// GetState is a test/debug read of the packed state word (spec.md
// §6.1).
func (o *Owner) GetState() uint64 { return o.state.load() }

// queueFor returns the queue a waiter of kind k is routed to under the
// lock's configured elevation mode (spec.md §6.2).
func (o *Owner) queueFor(k kind) *waiterQueue {
	switch o.mode {
	case elevationReadQueue:
		if k.isRead() {
			return o.elevatedQueue
		}
	case elevationWriteQueue:
		if k.isWrite() {
			return o.elevatedQueue
		}
	}
	return o.defaultQueue
}

// exitRead is ExitRead (spec.md §4.6) reused internally by
// completeAdmittedReads to refund phantom reads.
func (o *Owner) exitRead(n int64) {
	for {
		w := o.state.load()
		assertf(readCount(w) >= stateWord(n), "ExitRead(%d) underflows read count in %#x", n, w)
		next := w - stateWord(n)
		if !o.state.cas(w, next) {
			continue
		}
		if atFloorForHandoff(next) && hasQueueChanged(next) {
			o.handoffToExclusive(next)
		}
		o.metrics.setReaders(int64(readCount(next)))
		return
	}
}

// atFloorForHandoff reports whether w's reader count has drained to the
// minimum a queued waiter could still be admitted against: zero when no
// upgradable reader holds the lock, or one (the upgradable reader's own
// slot) when it does. Scenario D (spec.md §8) requires this floor to be
// one rather than a literal zero: a queued write-upgrade is only ever
// granted once every *other* reader has exited, and the upgradable
// holder's own ExitRead never runs (it promotes instead), so ordinary
// ExitRead calls are the only releasers that can reach this floor.
func atFloorForHandoff(w stateWord) bool {
	if hasUpgrade(w) {
		return readCount(w) == 1
	}
	return readCount(w) == 0
}

// Vacuum runs one pass over both waiter queues, unlinking nodes behind
// each queue's head whose deadline has elapsed or that are no longer
// pending (the head itself is left for the dispatcher to skip), and
// reports how many were removed. Called directly by tests and by the
// vacuum.Scheduler on its own goroutine; safe to call concurrently
// with acquires and releases.
func (o *Owner) Vacuum() int {
	now := o.clock.Now()
	n := o.defaultQueue.vacuum(now) + o.elevatedQueue.vacuum(now)
	o.metrics.addVacuumed(n)
	o.reportQueueDepth(o.defaultQueue)
	o.reportQueueDepth(o.elevatedQueue)
	return n
}

// reportQueueDepth publishes q's approximate length to the queue_depth
// gauge, labelled by which of the two queues it is. Called from every
// site that mutates a queue's approximate counter.
func (o *Owner) reportQueueDepth(q *waiterQueue) {
	o.metrics.setQueueDepth(q.name, q.approxLen())
}

// handoffToExclusive implements the "transition to IsWrite and run the
// dispatcher" step shared by ExitRead and ExitReadUpgrade once the
// reader count has drained with QueueChanged set (to zero, or for
// ExitRead to the atFloorForHandoff floor of one while Upgrade is set).
func (o *Owner) handoffToExclusive(observed stateWord) {
	target := writeSentinel | (observed & upgradeBit)
	if o.state.cas(observed, target) {
		o.dequeueUnderExclusive()
	}
	// A lost CAS here means another exiting reader (or the last one)
	// already made the same handoff; nothing further to do.
}
