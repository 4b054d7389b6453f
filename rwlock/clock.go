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

// TimeProvider is the clock source for deadline checks and the vacuum
// scheduler, injected so tests can control time instead of racing the
// wall clock (spec.md §6.2).
type TimeProvider interface {
	Now() time.Time
}

// SystemClock is the default TimeProvider, backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// deadlineFrom computes the absolute deadline for a wait of timeout
// starting now, per spec.md §3.2: zero deadline callers never reach
// here (timeout==0 is the pure fast path, handled by the caller before
// any node is rented). A negative timeout is an infinite wait and yields
// the zero Time; a zero timeout that somehow does reach here yields now,
// which reads as "already elapsed".
func deadlineFrom(now time.Time, timeout time.Duration) time.Time {
	if timeout < 0 {
		// Infinite wait.
		return time.Time{}
	}
	return now.Add(timeout)
}
