// Copyright 2026 The Sshfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sftp

// Span is one chunk of a logical byte range, sized to fit within the
// server's negotiated transfer limit.
type Span struct {
	Offset uint64
	Length uint32
}

// Chunker iterates the spans a logical read or write must be split into.
// Spans are produced in strictly increasing offset order.
type Chunker struct {
	next      uint64
	remaining uint64
	max       uint32
	cur       Span
}

// NewChunker splits [offset, offset+length) into spans of at most max bytes.
func NewChunker(offset, length uint64, max uint32) *Chunker {
	return &Chunker{next: offset, remaining: length, max: max}
}

// Next advances to the following span, reporting whether one exists. A zero
// max yields no spans rather than an endless run of empty ones.
func (c *Chunker) Next() bool {
	if c.remaining == 0 || c.max == 0 {
		return false
	}
	n := uint64(c.max)
	if n > c.remaining {
		n = c.remaining
	}
	c.cur = Span{Offset: c.next, Length: uint32(n)}
	c.next += n
	c.remaining -= n
	return true
}

// Value returns the current span.
func (c *Chunker) Value() Span { return c.cur }
