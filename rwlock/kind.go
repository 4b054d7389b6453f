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

// kind identifies what a Request Node is waiting for.
type kind uint8

const (
	kindUninitialized kind = iota
	kindRead
	kindWrite
	kindReadUpgrade
	kindWriteUpgrade
)

func (k kind) String() string {
	switch k {
	case kindRead:
		return "read"
	case kindWrite:
		return "write"
	case kindReadUpgrade:
		return "read-upgrade"
	case kindWriteUpgrade:
		return "write-upgrade"
	default:
		return "uninitialized"
	}
}

// isUpgradeKind reports whether k participates in the upgradable-reader
// protocol (either the upgradable read itself, or its exclusive phase).
func (k kind) isUpgradeKind() bool {
	return k == kindReadUpgrade || k == kindWriteUpgrade
}

func (k kind) isRead() bool {
	return k == kindRead || k == kindReadUpgrade
}

func (k kind) isWrite() bool {
	return k == kindWrite || k == kindWriteUpgrade
}
