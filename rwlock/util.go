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
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Spin backoff constants, adapted from the teacher lock's own
// (startingBackoff, maxBackoff, backoffFactor) triple: a handful of
// Gosched spins before falling back to a capped exponential sleep.
const (
	goschedSpins    = 4
	startingBackoff = 50 * time.Microsecond
	maxBackoff      = 500 * time.Millisecond
	backoffFactor   = 2
)

// backoff is the shared CAS-contention backoff used by every spin loop
// in this package: acquire retries, enqueue retries, requeue. *spins
// tracks how many times this call site has already backed off.
func backoff(spins *int) {
	if *spins < goschedSpins {
		*spins++
		runtime.Gosched()
		return
	}
	d := startingBackoff
	for i := 0; i < *spins-goschedSpins; i++ {
		d *= backoffFactor
		if d >= maxBackoff {
			d = maxBackoff
			break
		}
	}
	*spins++
	time.Sleep(d)
}

// assertf panics on a violated internal invariant. Per spec.md §9,
// these are contract-checked, not soft recoveries: the dispatcher's
// IsWrite precondition, for instance, must never actually fail.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("rwlock: invariant violated: " + fmt.Sprintf(format, args...))
	}
}

func zapKind(k kind) zap.Field {
	return zap.String("kind", k.String())
}
