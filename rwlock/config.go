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

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// elevationMode selects which queue the dispatcher favours on release.
type elevationMode int

const (
	elevationFair elevationMode = iota
	elevationReadQueue
	elevationWriteQueue
)

// Config holds construction-time options for a lock (spec.md §6.2).
// Exactly one of ElevateReadQueue/ElevateWriteQueue may be true; leaving
// both false selects fair FIFO ordering.
type Config struct {
	// RunContinuationsAsynchronously dispatches a waiter's result
	// continuation to a worker goroutine instead of completing it
	// synchronously on the releaser's goroutine. Default: off.
	RunContinuationsAsynchronously bool

	// ElevateReadQueue routes queued reads and read-upgrades to the
	// elevated queue, preferring readers on release.
	ElevateReadQueue bool

	// ElevateWriteQueue routes queued writes and write-upgrades to the
	// elevated queue, preferring writers on release. Mutually exclusive
	// with ElevateReadQueue.
	ElevateWriteQueue bool

	// VacuumQueueInterval, if non-nil, must be > 0; New rejects a
	// non-positive value. Beyond that check the field is not read: New
	// starts no timer, and the vacuum.Scheduler in the sibling package
	// takes its interval as an argument to NewScheduler instead.
	VacuumQueueInterval *time.Duration

	// TimeProvider is the clock used for deadline checks and, via the
	// vacuum scheduler, for ticking. Defaults to SystemClock.
	TimeProvider TimeProvider

	// Logger receives Debug-level tracing of admission/skip decisions
	// and Warn-level notices for overflow and disposal. Defaults to a
	// no-op logger.
	Logger *zap.Logger

	// Registerer, if non-nil, has this lock's Prometheus collectors
	// registered against it at construction. Leaving it nil skips
	// metrics registration entirely.
	Registerer prometheus.Registerer
}

func (c Config) validate() error {
	if c.ElevateReadQueue && c.ElevateWriteQueue {
		return errConfigBothElevated
	}
	if c.VacuumQueueInterval != nil && *c.VacuumQueueInterval <= 0 {
		return errConfigBadVacuumInterval
	}
	return nil
}

func (c Config) mode() elevationMode {
	switch {
	case c.ElevateReadQueue:
		return elevationReadQueue
	case c.ElevateWriteQueue:
		return elevationWriteQueue
	default:
		return elevationFair
	}
}

func (c Config) clock() TimeProvider {
	if c.TimeProvider == nil {
		return SystemClock{}
	}
	return c.TimeProvider
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

var (
	errConfigBothElevated      = errors.Wrap(ErrConfigInvalid, "ElevateReadQueue and ElevateWriteQueue are mutually exclusive")
	errConfigBadVacuumInterval = errors.Wrap(ErrConfigInvalid, "VacuumQueueInterval must be > 0 when set")
)
