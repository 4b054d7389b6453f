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

import "time"

// dequeueState accumulates the result of one Dequeue-Under-Exclusive
// invocation (spec.md §4.4). It is allocated once per call to
// dequeueUnderExclusive and survives retries of the main loop: a read
// already dequeued into reads has left its queue and must never be
// re-enqueued or double-counted just because a later publish-CAS lost.
type dequeueState struct {
	reads          []*node
	isUpgrade      bool
	queueRemaining bool
}

// dequeueUnderExclusive is the release dispatcher. Precondition: the
// state word is IsWrite. It is invoked directly by ExitWrite and
// ExitWriteUpgrade, and by ExitRead/ExitReadUpgrade once they have
// themselves transitioned the word to IsWrite because QueueChanged was
// set and the reader count drained (see handoffToExclusive).
func (o *Owner) dequeueUnderExclusive() {
	ds := &dequeueState{}
	for {
		word := o.state.load()
		assertf(isWrite(word), "dequeueUnderExclusive invoked with non-exclusive state %#x", word)

		upgradeFromPropagation := hasUpgrade(word)
		ds.isUpgrade = ds.isUpgrade || upgradeFromPropagation

		now := o.clock.Now()
		writer := o.scanForAdmission(ds, now)

		if writer != nil {
			if writer.tryCompleteAcquired(true) {
				o.logger.Debug("admitted queued writer", zapKind(writer.kind))
				return
			}
			// The writer we picked raced a timeout/cancellation and lost;
			// it is already gone, retry the whole scan.
			continue
		}

		if hasQueueChanged(word) {
			o.state.cas(word, withoutQueueChanged(word))
			continue
		}

		target := o.admissionTarget(word, ds, upgradeFromPropagation)
		if !o.state.cas(word, target) {
			continue
		}
		o.completeAdmittedReads(ds)
		return
	}
}

// scanForAdmission runs one scan appropriate to the configured
// elevation mode and returns a writer node to admit directly, or nil if
// the scan produced (or already held) a read batch instead.
func (o *Owner) scanForAdmission(ds *dequeueState, now time.Time) *node {
	switch o.mode {
	case elevationReadQueue:
		if len(ds.reads) == 0 {
			o.dequeueChain(o.elevatedQueue, ds, now, false)
		}
		if len(ds.reads) == 0 {
			return o.dequeueChain(o.defaultQueue, ds, now, true)
		}
		if o.defaultQueue.approxLen() > 0 {
			ds.queueRemaining = true
		}
		return nil

	case elevationWriteQueue:
		if len(ds.reads) > 0 {
			if o.elevatedQueue.approxLen() > 0 {
				ds.queueRemaining = true
			}
			return nil
		}
		if w := o.dequeueChain(o.elevatedQueue, ds, now, true); w != nil {
			return w
		}
		return o.dequeueChain(o.defaultQueue, ds, now, true)

	default: // elevationFair
		return o.dequeueChain(o.defaultQueue, ds, now, true)
	}
}

// admissionTarget computes the post-admission state word once the scan
// has committed to publishing a read batch (spec.md §4.4).
func (o *Owner) admissionTarget(word stateWord, ds *dequeueState, upgradeFromPropagation bool) stateWord {
	count := stateWord(len(ds.reads))
	if upgradeFromPropagation {
		count++
	}
	target := count
	if ds.isUpgrade {
		target = withUpgrade(target)
	}
	if ds.queueRemaining {
		target = withQueueChanged(target)
	}
	return target
}

// completeAdmittedReads resolves every node in ds.reads now that the
// lock is publicly in the read state they were admitted into. Any node
// whose completion loses the race (it had already timed out or been
// cancelled) contributes a phantom read: its reserved slot is refunded
// via ExitRead.
func (o *Owner) completeAdmittedReads(ds *dequeueState) {
	var phantom int64
	for _, n := range ds.reads {
		if !n.tryCompleteAcquired(true) {
			phantom++
		}
	}
	if phantom > 0 {
		o.exitRead(phantom)
	}
}

// dequeueChain implements both "dequeue a chain of reads" and "dequeue
// a write or a chain of reads" from spec.md §4.5. When
// allowWriteSelection is true, a dequeued write node may be returned
// directly as the chosen exclusive holder, provided the batch is still
// empty and its upgrade-kind matches ds.isUpgrade.
func (o *Owner) dequeueChain(q *waiterQueue, ds *dequeueState, now time.Time, allowWriteSelection bool) *node {
	startCount := q.approxLen()
	var iterCount int64

	for {
		v, ok := q.tryDequeue()
		if !ok {
			continue // a concurrent dequeuer won; retry immediately
		}
		if v == nil {
			return nil // queue observed empty
		}
		q.decr()
		o.reportQueueDepth(q)

		wasCancelled := !v.isPending()
		if !v.checkQueueCanHold(now) {
			if wasCancelled {
				o.metrics.incCancellations()
			} else {
				o.metrics.incTimeouts()
			}
			continue
		}

		if v.kind.isWrite() {
			if allowWriteSelection && len(ds.reads) == 0 && v.kind.isUpgradeKind() == ds.isUpgrade {
				return v
			}
			if o.stopScan(q, ds, v, &iterCount, startCount) {
				return nil
			}
			continue
		}

		if v.kind == kindReadUpgrade && ds.isUpgrade {
			// A second upgradable reader can never be admitted alongside
			// the first; treat it exactly like an inadmissible write.
			if o.stopScan(q, ds, v, &iterCount, startCount) {
				return nil
			}
			continue
		}

		ds.reads = append(ds.reads, v)
		if v.kind == kindReadUpgrade {
			ds.isUpgrade = true
		}
	}
}

// stopScan re-enqueues an inadmissible node and reports whether the
// scan should stop (true) or keep looking for an admissible read past
// it (false), per the iteration bound in spec.md §4.5.
func (o *Owner) stopScan(q *waiterQueue, ds *dequeueState, v *node, iterCount *int64, startCount int64) bool {
	o.requeue(q, v)
	*iterCount++
	bound := max64(q.approxLen(), startCount)
	if len(ds.reads) == 0 && *iterCount <= bound {
		return false
	}
	ds.queueRemaining = true
	return true
}

// requeue re-enqueues v at the tail of q, spinning through transient
// enqueue races the same way the contended acquire path does. v was
// just physically unlinked from the head of this same queue, so its
// next pointer still points at whatever followed it there; it must be
// cleared before re-enqueueing or tryEnqueue would splice a cycle into
// the queue instead of appending a fresh tail node.
func (o *Owner) requeue(q *waiterQueue, v *node) {
	v.next.Store(nil)
	var spins int
	for !q.tryEnqueue(v) {
		backoff(&spins)
	}
	q.incr()
	o.reportQueueDepth(q)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
