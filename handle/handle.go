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

// Package handle wraps each rwlock acquire in a pooled, idempotent
// value that owns exactly one release. It exists for callers who would
// otherwise have to remember which of ExitRead/ExitReadUpgrade/
// ExitWrite/ExitWriteUpgrade pairs with which Enter call.
package handle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dijkstracula/go-rwlock/rwlock"
)

type kind int

const (
	kindRead kind = iota
	kindReadUpgrade
	kindWrite
	kindWriteUpgrade
)

// Handle represents one admitted acquire. Release is safe to call more
// than once; only the first call has any effect.
type Handle struct {
	owner     *rwlock.Owner
	kind      kind
	released  atomic.Bool
	readCount int64
}

var pool = sync.Pool{New: func() any { return new(Handle) }}

func get(o *rwlock.Owner, k kind) *Handle {
	h := pool.Get().(*Handle)
	h.owner = o
	h.kind = k
	h.readCount = 1
	h.released.Store(false)
	return h
}

func put(h *Handle) {
	h.owner = nil
	pool.Put(h)
}

// Release gives up everything the Handle holds: for a write-upgrade
// Handle that is both the exclusive phase and the upgradable-shared lock
// beneath it. Calling it twice on the same Handle is a no-op.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	switch h.kind {
	case kindRead:
		h.owner.ExitRead(h.readCount)
	case kindReadUpgrade:
		h.owner.ExitReadUpgrade()
	case kindWrite:
		h.owner.ExitWrite()
	case kindWriteUpgrade:
		h.owner.ExitWriteUpgrade()
		h.owner.ExitReadUpgrade()
	}
	put(h)
}

// AcquireRead blocks (subject to ctx and timeout) for a shared read
// and returns a Handle on success. A nil, false return with a nil
// error means the wait timed out without being admitted.
func AcquireRead(ctx context.Context, o *rwlock.Owner, timeout time.Duration) (*Handle, bool, error) {
	ok, err := o.EnterRead(ctx, timeout)
	if err != nil || !ok {
		return nil, ok, err
	}
	return get(o, kindRead), true, nil
}

// AcquireReadUpgrade blocks for the upgradable-shared lock.
func AcquireReadUpgrade(ctx context.Context, o *rwlock.Owner, timeout time.Duration) (*Handle, bool, error) {
	ok, err := o.EnterReadUpgrade(ctx, timeout)
	if err != nil || !ok {
		return nil, ok, err
	}
	return get(o, kindReadUpgrade), true, nil
}

// AcquireWrite blocks for the exclusive write lock.
func AcquireWrite(ctx context.Context, o *rwlock.Owner, timeout time.Duration) (*Handle, bool, error) {
	ok, err := o.EnterWrite(ctx, timeout)
	if err != nil || !ok {
		return nil, ok, err
	}
	return get(o, kindWrite), true, nil
}

// Upgrade converts a Handle obtained from AcquireReadUpgrade into the
// exclusive write-upgrade lock. The original Handle must not be
// released separately; the returned Handle now owns the release.
// Releasing it ends the upgradable-shared lock too; Downgrade keeps it.
func Upgrade(ctx context.Context, h *Handle, timeout time.Duration) (*Handle, bool, error) {
	if h.kind != kindReadUpgrade {
		panic("rwlock/handle: Upgrade called on a non-read-upgrade Handle")
	}
	ok, err := h.owner.EnterWriteUpgrade(ctx, timeout)
	if err != nil || !ok {
		return nil, ok, err
	}
	o := h.owner
	if !h.released.CompareAndSwap(false, true) {
		panic("rwlock/handle: Upgrade called on an already-released Handle")
	}
	put(h)
	return get(o, kindWriteUpgrade), true, nil
}

// Downgrade releases the exclusive phase of a write-upgrade Handle and
// returns a fresh Handle for the upgradable-shared lock the caller
// automatically resumes holding. The original Handle must not be
// released separately.
func Downgrade(h *Handle) *Handle {
	if h.kind != kindWriteUpgrade {
		panic("rwlock/handle: Downgrade called on a non-write-upgrade Handle")
	}
	o := h.owner
	if !h.released.CompareAndSwap(false, true) {
		panic("rwlock/handle: Downgrade called on an already-released Handle")
	}
	o.ExitWriteUpgrade()
	put(h)
	return get(o, kindReadUpgrade)
}

// TryAcquireRead is the non-blocking counterpart of AcquireRead.
func TryAcquireRead(o *rwlock.Owner) (*Handle, bool) {
	if !o.TryEnterRead() {
		return nil, false
	}
	return get(o, kindRead), true
}

// TryAcquireWrite is the non-blocking counterpart of AcquireWrite.
func TryAcquireWrite(o *rwlock.Owner) (*Handle, bool) {
	if !o.TryEnterWrite() {
		return nil, false
	}
	return get(o, kindWrite), true
}
