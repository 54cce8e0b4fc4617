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
package dcache

import (
	"fmt"
	"testing"

	"github.com/andy0130tw/sshfs/pkg/sftp"
)

func TestVariants(t *testing.T) {
	c := New(0)

	c.PutStat("/a/file", sftp.Attr{Flags: sftp.AttrFlagSize, Size: 42})
	c.PutLink("/a/link", "/a/file")
	c.PutDir("/a", []string{"file", "link"})

	e, ok := c.Lookup("/a/file")
	if !ok || e.Kind != KindStat || e.Attr.Size != 42 {
		t.Errorf("stat entry came back as %+v (ok=%v)", e, ok)
	}
	e, ok = c.Lookup("/a/link")
	if !ok || e.Kind != KindLink || e.Target != "/a/file" {
		t.Errorf("link entry came back as %+v (ok=%v)", e, ok)
	}
	e, ok = c.Lookup("/a")
	if !ok || e.Kind != KindDir || len(e.Children) != 2 {
		t.Errorf("dir entry came back as %+v (ok=%v)", e, ok)
	}

	// Re-putting a path with a different variant replaces it outright.
	c.PutLink("/a/file", "elsewhere")
	e, _ = c.Lookup("/a/file")
	if e.Kind != KindLink {
		t.Errorf("kind after replacement = %d, want link", e.Kind)
	}
	if c.Len() != 3 {
		t.Errorf("len = %d, want 3", c.Len())
	}
}

func TestLookupMiss(t *testing.T) {
	c := New(0)
	if _, ok := c.Lookup("/nope"); ok {
		t.Error("lookup on an empty cache should miss")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(0)
	c.PutStat("/f", sftp.Attr{})
	if !c.Invalidate("/f") {
		t.Error("invalidate should report the entry was present")
	}
	if c.Invalidate("/f") {
		t.Error("second invalidate should report absence")
	}
	if _, ok := c.Lookup("/f"); ok {
		t.Error("entry survived invalidation")
	}
}

func TestInvalidateSubtree(t *testing.T) {
	c := New(0)
	c.PutDir("/a", []string{"b"})
	c.PutStat("/a/b", sftp.Attr{})
	c.PutStat("/a/b/c", sftp.Attr{})
	c.PutStat("/ab", sftp.Attr{}) // sibling sharing the prefix bytes, not the path
	c.PutStat("/z", sftp.Attr{})

	c.InvalidateSubtree("/a")

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		if _, ok := c.Lookup(p); ok {
			t.Errorf("%s should have been invalidated", p)
		}
	}
	for _, p := range []string{"/ab", "/z"} {
		if _, ok := c.Lookup(p); !ok {
			t.Errorf("%s should have survived", p)
		}
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(3)
	for i := 0; i < 3; i++ {
		c.PutStat(fmt.Sprintf("/f%d", i), sftp.Attr{})
	}
	// Touch /f0 so /f1 becomes the coldest entry.
	if _, ok := c.Lookup("/f0"); !ok {
		t.Fatal("warm entry missing")
	}
	c.PutStat("/f3", sftp.Attr{})

	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if _, ok := c.Lookup("/f1"); ok {
		t.Error("coldest entry should have been evicted")
	}
	for _, p := range []string{"/f0", "/f2", "/f3"} {
		if _, ok := c.Lookup(p); !ok {
			t.Errorf("%s should still be cached", p)
		}
	}
}

func TestClear(t *testing.T) {
	c := New(0)
	c.PutStat("/f", sftp.Attr{})
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after clear = %d", c.Len())
	}
	// The cache must stay usable after clearing.
	c.PutStat("/g", sftp.Attr{})
	if _, ok := c.Lookup("/g"); !ok {
		t.Error("cache unusable after clear")
	}
}
