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

// Package vacuum drives the background pass that unlinks timed-out or
// cancelled waiters from a lock's queues, so that a queue nobody is
// actively dequeuing from (an idle lock with expired waiters sitting
// behind live ones) still gets cleaned up eventually.
package vacuum

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dijkstracula/go-rwlock/rwlock"
)

// Scheduler runs one vacuum pass per tick of interval until stopped.
// Callers that leave Config.VacuumQueueInterval nil (vacuuming is
// caller-driven only, per spec.md §6.2) simply never construct a
// Scheduler; NewScheduler itself always requires a positive interval.
type Scheduler struct {
	owner    *rwlock.Owner
	interval time.Duration
	clock    rwlock.TimeProvider
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewScheduler builds a Scheduler for owner, ticking every interval.
// The caller must call Start to begin ticking and Stop to release the
// background goroutine.
func NewScheduler(owner *rwlock.Owner, interval time.Duration, clock rwlock.TimeProvider, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = rwlock.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{owner: owner, interval: interval, clock: clock, logger: logger}
}

// Start launches the background ticking goroutine. Calling Start more
// than once is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.once.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.run(runCtx)
	})
}

// Stop halts the background goroutine and waits for it to exit. Safe
// to call even if Start was never called.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.owner.Vacuum()
			if n > 0 {
				s.logger.Debug("vacuum pass removed dead waiters",
					zap.Int("removed", n),
					zap.String("lock_id", s.owner.ID()),
					zap.Time("at", s.clock.Now()))
			}
		}
	}
}
