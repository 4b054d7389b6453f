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

import "github.com/pkg/errors"

// Error taxonomy (spec.md §7). Timeout is not an error at all: it is
// surfaced as a plain false return from an Enter* future. Everything
// else here is delivered through that future's error slot; no release
// path ever returns or panics with one of these.
var (
	// ErrCancelled means the caller's context was cancelled while the
	// waiter was queued.
	ErrCancelled = errors.New("rwlock: acquire cancelled")

	// ErrQueueOverflow means more than MaxReadCount waiters were queued
	// on a single queue at once.
	ErrQueueOverflow = errors.New("rwlock: waiter queue overflow")

	// ErrConfigInvalid means Config failed validation at construction.
	ErrConfigInvalid = errors.New("rwlock: invalid configuration")

	// ErrDisposed means the lock was, or became, disposed: either the
	// acquire was attempted after Dispose, or the waiter was queued
	// when Dispose ran.
	ErrDisposed = errors.New("rwlock: lock disposed")
)

// wrapf attaches the owning lock's identity and the waiter kind to a
// taxonomy error without losing errors.Is/As compatibility.
func wrapf(id string, k kind, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "rwlock %s: %s waiter", id, k)
}
