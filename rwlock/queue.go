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
	"time"

	"go.uber.org/atomic"
)

// waiterQueue is a lock-free singly-linked FIFO of *node, with
// independent atomic head/tail pointers and an approximate length used
// only to bound scans, never for correctness (spec.md §3.3).
type waiterQueue struct {
	name  string
	head  atomic.Pointer[node]
	tail  atomic.Pointer[node]
	count atomic.Int64
}

// tryEnqueue appends v at the tail. A false return means a concurrent
// enqueuer is mid-operation; the caller should retry.
func (q *waiterQueue) tryEnqueue(v *node) bool {
	tail := q.tail.Load()
	if tail == nil {
		if !q.head.CompareAndSwap(nil, v) {
			return false
		}
		q.tail.Store(v)
		return true
	}
	next := tail.next.Load()
	if next != nil {
		// Help the lagging enqueuer advance the tail. We deliberately
		// do not dereference tail again after this: the caller retries
		// with a freshly-loaded tail on its next attempt instead.
		q.tail.CompareAndSwap(tail, next)
		return false
	}
	if !tail.next.CompareAndSwap(nil, v) {
		return false
	}
	q.tail.CompareAndSwap(tail, v) // best effort; a helper may win this
	return true
}

// tryDequeue pops the head. ok is false only when a concurrent
// dequeuer won the race on a non-empty queue; the caller should retry.
// A nil node with ok true means the queue was observed empty.
func (q *waiterQueue) tryDequeue() (v *node, ok bool) {
	head := q.head.Load()
	if head == nil {
		return nil, true
	}
	next := head.next.Load()
	if !q.head.CompareAndSwap(head, next) {
		return nil, false
	}
	if next == nil {
		q.tail.CompareAndSwap(head, nil)
	}
	return head, true
}

func (q *waiterQueue) incr() {
	q.count.Inc()
}

func (q *waiterQueue) decr() {
	q.count.Dec()
}

func (q *waiterQueue) approxLen() int64 {
	return q.count.Load()
}

// vacuum walks the queue from head, unlinking middle nodes whose
// deadline has elapsed or whose state is no longer pending. It aborts
// immediately if the head pointer changes mid-walk, since that means a
// concurrent dequeue is in flight and our predecessor pointers may be
// stale.
func (q *waiterQueue) vacuum(now time.Time) int {
	headAtStart := q.head.Load()
	if headAtStart == nil {
		return 0
	}
	removed := 0
	var prev *node
	cur := headAtStart
	for cur != nil {
		if q.head.Load() != headAtStart {
			return removed
		}
		next := cur.next.Load()
		dead := cur.deadlineElapsed(now) || !cur.isPending()
		if dead && prev != nil {
			if prev.next.CompareAndSwap(cur, next) {
				if next == nil {
					q.tail.CompareAndSwap(cur, prev)
				}
				cur.checkQueueCanHold(now)
				q.decr()
				removed++
				cur = next
				continue
			}
			// Lost the splice race; rescan from prev's current successor.
			cur = prev.next.Load()
			continue
		}
		prev = cur
		cur = next
	}
	return removed
}
