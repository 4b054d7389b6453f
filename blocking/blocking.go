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

// Package blocking wraps rwlock.Owner in a plain, infinite-wait Mutex
// facade with no context or timeout parameters, in the spirit of the
// condvar-backed ilock.Mutex this module grew out of: a thin type with
// New() and paired Lock/Unlock style methods, delegating the actual
// admission logic to the packed-state core instead of a sync.Cond.
package blocking

import (
	"context"

	"github.com/dijkstracula/go-rwlock/rwlock"
)

// RWMutex is a blocking-only view of an rwlock.Owner: every call parks
// until admitted and never returns an error, matching the four lock
// calls ilock.Mutex exposed (IS/IX/S/X) but named after what each one
// actually grants.
type RWMutex struct {
	owner *rwlock.Owner
}

// New constructs an RWMutex with the given configuration. A zero
// Config selects rwlock defaults (fair queueing, no vacuum).
func New(cfg rwlock.Config) (*RWMutex, error) {
	o, err := rwlock.New(cfg)
	if err != nil {
		return nil, err
	}
	return &RWMutex{owner: o}, nil
}

// Owner exposes the underlying lock for callers that need the
// context/timeout-aware API (e.g. to Dispose it).
func (m *RWMutex) Owner() *rwlock.Owner { return m.owner }

// RLock blocks until a shared read is admitted.
func (m *RWMutex) RLock() {
	if _, err := m.owner.EnterRead(context.Background(), -1); err != nil {
		panic("rwlock/blocking: RLock: " + err.Error())
	}
}

// RUnlock releases one shared read.
func (m *RWMutex) RUnlock() { m.owner.ExitRead(1) }

// Lock blocks until the exclusive write lock is admitted.
func (m *RWMutex) Lock() {
	if _, err := m.owner.EnterWrite(context.Background(), -1); err != nil {
		panic("rwlock/blocking: Lock: " + err.Error())
	}
}

// Unlock releases the exclusive write lock.
func (m *RWMutex) Unlock() { m.owner.ExitWrite() }

// RLockUpgrade blocks until the upgradable-shared lock is admitted.
// Only one caller may hold it at a time.
func (m *RWMutex) RLockUpgrade() {
	if _, err := m.owner.EnterReadUpgrade(context.Background(), -1); err != nil {
		panic("rwlock/blocking: RLockUpgrade: " + err.Error())
	}
}

// RUnlockUpgrade releases the upgradable-shared lock without having
// converted it to exclusive.
func (m *RWMutex) RUnlockUpgrade() { m.owner.ExitReadUpgrade() }

// Upgrade converts the caller's held upgradable-shared lock to the
// exclusive write-upgrade lock, blocking until every other reader has
// drained.
func (m *RWMutex) Upgrade() {
	if _, err := m.owner.EnterWriteUpgrade(context.Background(), -1); err != nil {
		panic("rwlock/blocking: Upgrade: " + err.Error())
	}
}

// Downgrade releases the exclusive phase of an upgraded lock. The
// caller automatically resumes holding the upgradable-shared lock
// exactly as it did before Upgrade; call RUnlockUpgrade to release it.
func (m *RWMutex) Downgrade() { m.owner.ExitWriteUpgrade() }
