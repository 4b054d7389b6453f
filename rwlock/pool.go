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
	"sync"
	"time"
)

// Request Nodes are pooled per kind. sync.Pool already gives each P a
// single-slot fast path with a shared queue as fallback, which is the
// arrangement spec.md's design notes call out as a legitimate
// implementation of the "per-thread slot + global lock-free fallback"
// pool shape (see DESIGN.md).
var nodePools = [...]*sync.Pool{
	kindRead:         {New: func() any { return newNode() }},
	kindWrite:        {New: func() any { return newNode() }},
	kindReadUpgrade:  {New: func() any { return newNode() }},
	kindWriteUpgrade: {New: func() any { return newNode() }},
}

// getNode rents a node of the given kind, ready to enqueue with the
// given deadline. deadline is the zero Time for an infinite wait. async
// mirrors the owning lock's RunContinuationsAsynchronously setting.
func getNode(k kind, deadline time.Time, async bool) *node {
	for {
		n := nodePools[k].Get().(*node)
		if n.reset(k, deadline, async) {
			return n
		}
		// Version saturated: let this one go to the garbage collector
		// and rent a fresh one instead of recycling it.
	}
}

// putNode returns a fully-dereferenced node to its kind's pool, or lets
// it go to the garbage collector if its version counter has saturated.
func putNode(n *node) {
	if n.version == ^uint32(0) {
		return
	}
	nodePools[n.kind].Put(n)
}
