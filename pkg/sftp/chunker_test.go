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

import "testing"

func TestChunker(t *testing.T) {
	parts := 16
	extra := uint64(7)
	max := uint32(4096)
	chunker := NewChunker(100, uint64(parts)*uint64(max)+extra, max)

	next := uint64(100)
	for i := 0; i < parts; i++ {
		if !chunker.Next() {
			t.Fatal("should have shown another span")
		}
		val := chunker.Value()
		if val.Offset != next || val.Length != max {
			t.Errorf("span %d: got (%d, %d), want (%d, %d)", i, val.Offset, val.Length, next, max)
		}
		next += uint64(max)
	}
	if !chunker.Next() {
		t.Fatal("trailing span was not found")
	}
	last := chunker.Value()
	if last.Offset != next || uint64(last.Length) != extra {
		t.Errorf("trailing span should have been (%d, %d), got (%d, %d)", next, extra, last.Offset, last.Length)
	}
	if chunker.Next() {
		t.Error("shouldn't have gotten another span")
	}
}

func TestChunkerEmpty(t *testing.T) {
	chunker := NewChunker(42, 0, 4096)
	if chunker.Next() {
		t.Error("empty range should produce no spans")
	}
}

func TestChunkerZeroMax(t *testing.T) {
	chunker := NewChunker(0, 10, 0)
	if chunker.Next() {
		t.Error("zero chunk limit should produce no spans")
	}
}
