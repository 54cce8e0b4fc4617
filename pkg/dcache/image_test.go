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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andy0130tw/sshfs/pkg/sftp"
)

func populated() *Cache {
	c := New(0)
	c.PutStat("/a/file", sftp.Attr{
		Flags: sftp.AttrFlagSize | sftp.AttrFlagPerms,
		Size:  1234,
		Perm:  0100644,
	})
	c.PutLink("/a/link", "/a/file")
	c.PutDir("/a", []string{"file", "link"})
	return c
}

func TestImageRoundTrip(t *testing.T) {
	src := populated()
	var buf bytes.Buffer
	if err := src.Save(&buf, "test image"); err != nil {
		t.Fatal(err)
	}

	dst := New(0)
	meta, err := dst.Load(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Version != ImageVersion || meta.AttrBlobSize != sftp.AttrBlobSize {
		t.Errorf("header came back as %+v", meta)
	}
	if meta.Note != "test image" {
		t.Errorf("note = %q", meta.Note)
	}
	if dst.Len() != src.Len() {
		t.Fatalf("loaded %d entries, want %d", dst.Len(), src.Len())
	}

	e, ok := dst.Lookup("/a/file")
	if !ok || e.Kind != KindStat || e.Attr.Size != 1234 || e.Attr.Perm != 0100644 {
		t.Errorf("stat entry after reload: %+v (ok=%v)", e, ok)
	}
	e, ok = dst.Lookup("/a/link")
	if !ok || e.Target != "/a/file" {
		t.Errorf("link entry after reload: %+v (ok=%v)", e, ok)
	}
	e, ok = dst.Lookup("/a")
	if !ok || len(e.Children) != 2 || e.Children[0] != "file" {
		t.Errorf("dir entry after reload: %+v (ok=%v)", e, ok)
	}
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	src := populated()
	var buf bytes.Buffer
	if err := src.Save(&buf, ""); err != nil {
		t.Fatal(err)
	}
	img := buf.Bytes()
	img[3] = ImageVersion + 1 // big-endian version field

	dst := New(0)
	dst.PutStat("/keep", sftp.Attr{})
	_, err := dst.Load(bytes.NewReader(img))
	if !errors.Is(err, ErrIncompatibleImage) {
		t.Fatalf("expected ErrIncompatibleImage, got %v", err)
	}
	// A rejected image must leave prior contents alone.
	if _, ok := dst.Lookup("/keep"); !ok {
		t.Error("rejected load clobbered the cache")
	}
}

func TestLoadRejectsTruncatedImage(t *testing.T) {
	src := populated()
	var buf bytes.Buffer
	if err := src.Save(&buf, ""); err != nil {
		t.Fatal(err)
	}
	img := buf.Bytes()

	dst := New(0)
	if _, err := dst.Load(bytes.NewReader(img[:len(img)-3])); err == nil {
		t.Fatal("truncated image should not load")
	}
}

func TestSaveLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cache.img")

	src := populated()
	if err := src.SaveFile(p, "unit test"); err != nil {
		t.Fatal(err)
	}

	dst := New(0)
	dst.LoadFile(p, nil)
	if dst.Len() != src.Len() {
		t.Errorf("loaded %d entries, want %d", dst.Len(), src.Len())
	}
}

func TestLoadFileMissingStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	c := New(0)
	c.LoadFile(filepath.Join(dir, "absent.img"), nil)
	if c.Len() != 0 {
		t.Errorf("cache should be empty, has %d entries", c.Len())
	}
}

func TestLoadFileCorruptStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cache.img")

	src := populated()
	if err := src.SaveFile(p, ""); err != nil {
		t.Fatal(err)
	}
	// Flip the version so the image is incompatible on disk.
	img, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	img[3] = ImageVersion + 7
	if err := os.WriteFile(p, img, 0644); err != nil {
		t.Fatal(err)
	}

	c := New(0)
	c.LoadFile(p, nil)
	if c.Len() != 0 {
		t.Errorf("incompatible image should leave the cache empty, has %d entries", c.Len())
	}
}
