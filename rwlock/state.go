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

import "go.uber.org/atomic"

// stateWord packs the lock's entire externally observable state into a
// single pointer-sized integer so that every transition is a single CAS:
//
//	|63            |62       |61......................................0|
//	| QueueChanged | Upgrade |        ReadCount / WriteSentinel         |
//
// If the low 62 bits equal writeSentinel (all ones), the lock is held
// exclusively. Otherwise the low 62 bits are the number of active
// readers.
type stateWord = uint64

const (
	queueChangedBit stateWord = 1 << 63
	upgradeBit      stateWord = 1 << 62
	countMask       stateWord = upgradeBit - 1

	// writeSentinel is the all-ones value over the low 62 bits: the low
	// bits read as this exact value iff the lock is held exclusively.
	writeSentinel stateWord = countMask

	// MaxReadCount is the largest number of simultaneous readers the
	// state word can represent. canEnterRead stops admitting ordinary
	// readers once the count reaches it rather than wrap into the
	// sentinel; such a reader queues like any other contended acquire.
	MaxReadCount = writeSentinel - 1
)

func isWrite(w stateWord) bool {
	return w&countMask == writeSentinel
}

func hasQueueChanged(w stateWord) bool {
	return w&queueChangedBit != 0
}

func hasUpgrade(w stateWord) bool {
	return w&upgradeBit != 0
}

func readCount(w stateWord) stateWord {
	if isWrite(w) {
		return 0
	}
	return w & countMask
}

// canEnterRead reports whether an ordinary read may be admitted
// optimistically against w. The upgrade bit is deliberately ignored:
// ordinary readers may coexist with an upgradable reader.
func canEnterRead(w stateWord) bool {
	return !isWrite(w) && !hasQueueChanged(w) && readCount(w) < MaxReadCount
}

// canEnterReadUpgrade reports whether an upgradable read may be
// admitted. Encoded, per spec, as the raw word being no larger than
// MaxReadCount: that simultaneously requires not-write, not-queued and
// not-already-upgraded, since any of those would set a bit above the
// count range.
func canEnterReadUpgrade(w stateWord) bool {
	return w <= MaxReadCount
}

func canEnterWrite(w stateWord) bool {
	return w == 0
}

// canEnterWriteUpgrade reports whether the upgradable reader - who must
// be the sole remaining reader - may convert to exclusive.
func canEnterWriteUpgrade(w stateWord) bool {
	return hasUpgrade(w) && readCount(w) <= 1 && !isWrite(w)
}

func withQueueChanged(w stateWord) stateWord {
	return w | queueChangedBit
}

func withoutQueueChanged(w stateWord) stateWord {
	return w &^ queueChangedBit
}

func withUpgrade(w stateWord) stateWord {
	return w | upgradeBit
}

func withoutUpgrade(w stateWord) stateWord {
	return w &^ upgradeBit
}

// enterReadTarget is the CAS target for admitting one more ordinary
// reader against w. Callers must have already checked canEnterRead(w).
func enterReadTarget(w stateWord) stateWord {
	return w + 1
}

// enterReadUpgradeTarget is the CAS target for admitting the upgradable
// reader. Callers must have already checked canEnterReadUpgrade(w).
func enterReadUpgradeTarget(w stateWord) stateWord {
	return w + 1 | upgradeBit
}

// enterWriteTarget is the CAS target for admitting a plain writer
// against an otherwise-free lock.
func enterWriteTarget(stateWord) stateWord {
	return writeSentinel
}

// enterWriteUpgradeTarget is the CAS target for converting the
// upgradable reader to exclusive. The upgrade bit survives into the
// exclusive phase so ExitWriteUpgrade knows to hand back to
// Upgradable-Shared rather than Free.
func enterWriteUpgradeTarget(stateWord) stateWord {
	return writeSentinel | upgradeBit
}

// queuedTransition reports, for a waiter of the given kind that has
// already enqueued, whether w currently permits setting QueueChanged,
// and if so the target word. This is the "inform a concurrent releaser"
// half of optimistic acquire (spec.md §4.1).
func queuedTransition(k kind, w stateWord) (target stateWord, ok bool) {
	switch k {
	case kindWrite:
		if hasQueueChanged(w) {
			return 0, false
		}
		return withQueueChanged(w), true
	case kindRead:
		if !isWrite(w) || hasQueueChanged(w) {
			return 0, false
		}
		return withQueueChanged(w), true
	case kindReadUpgrade:
		if !isWrite(w) || hasQueueChanged(w) || hasUpgrade(w) {
			return 0, false
		}
		return withQueueChanged(w), true
	case kindWriteUpgrade:
		if !hasUpgrade(w) || hasQueueChanged(w) {
			return 0, false
		}
		return withQueueChanged(w), true
	default:
		return 0, false
	}
}

// rawState is the atomic cell backing a lock's state word.
type rawState struct {
	word atomic.Uint64
}

func (s *rawState) load() stateWord {
	return s.word.Load()
}

func (s *rawState) cas(old, new stateWord) bool {
	return s.word.CAS(old, new)
}
