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
package fusefs

import (
	"context"
	"testing"

	"github.com/andy0130tw/sshfs/pkg/dcache"
	"github.com/andy0130tw/sshfs/pkg/sftp"
	"github.com/andy0130tw/sshfs/pkg/sftp/sftptest"
)

func newTestDispatcher(t *testing.T, opts sftptest.Options, cfg Config) (*sftptest.Server, *Dispatcher) {
	t.Helper()
	srv, ch := sftptest.NewPair(opts)
	cl := sftp.NewClient(ch, sftp.Config{})
	if err := cl.Negotiate(context.Background()); err != nil {
		srv.Close()
		t.Fatalf("negotiate: %v", err)
	}
	d := NewDispatcher(cl, dcache.New(0), cfg)
	t.Cleanup(func() {
		d.Close()
		srv.Close()
	})
	return srv, d
}

func TestGetattrUsesCache(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/data/f", []byte("0123456789"), 0644)
	ctx := context.Background()

	first, err := d.Getattr(ctx, "/data/f")
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Getattr(ctx, "/data/f")
	if err != nil {
		t.Fatal(err)
	}
	if first.Size != 10 || second.Size != 10 {
		t.Errorf("sizes %d/%d, want 10", first.Size, second.Size)
	}
	if n := srv.OpCount(sftp.OpLstat); n != 1 {
		t.Errorf("served %d lstat round trips, want 1", n)
	}
}

func TestReaddirPrimesStatCache(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/dir/a", []byte("aa"), 0644)
	srv.Put("/dir/b", []byte("bbbb"), 0644)
	ctx := context.Background()

	entries, err := d.ReadDir(ctx, "/dir")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("listed %d entries, want 2", len(entries))
	}

	// Per-entry attributes arrived with the listing pages; stats afterwards
	// must not round-trip.
	if attr, err := d.Getattr(ctx, "/dir/a"); err != nil || attr.Size != 2 {
		t.Errorf("getattr a: %v, size %d", err, attr.Size)
	}
	if attr, err := d.Getattr(ctx, "/dir/b"); err != nil || attr.Size != 4 {
		t.Errorf("getattr b: %v, size %d", err, attr.Size)
	}
	if n := srv.OpCount(sftp.OpLstat); n != 0 {
		t.Errorf("served %d lstat round trips, want 0", n)
	}

	// A second full listing is answered from the completed cached listing.
	if _, err := d.ReadDir(ctx, "/dir"); err != nil {
		t.Fatal(err)
	}
	if n := srv.OpCount(sftp.OpOpendir); n != 1 {
		t.Errorf("served %d opendir round trips, want 1", n)
	}
}

func TestWriteFsyncThenGetattrIsFresh(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/f", nil, 0644)
	ctx := context.Background()

	if attr, err := d.Getattr(ctx, "/f"); err != nil || attr.Size != 0 {
		t.Fatalf("prime getattr: %v, size %d", err, attr.Size)
	}

	h, err := d.Open(ctx, "/f", sftp.OpenWrite, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write(ctx, 0, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if err := h.Fsync(ctx); err != nil {
		t.Fatal(err)
	}

	// The write dropped the cached stat, so this must round-trip and see
	// the new size.
	attr, err := d.Getattr(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 10 {
		t.Errorf("size after fsync = %d, want 10", attr.Size)
	}
	if n := srv.OpCount(sftp.OpLstat); n != 2 {
		t.Errorf("served %d lstat round trips, want 2", n)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRenameInvalidatesBothSubtrees(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/a/f", []byte("xx"), 0644)
	ctx := context.Background()

	if _, err := d.Getattr(ctx, "/a/f"); err != nil {
		t.Fatal(err)
	}
	if err := d.Rename(ctx, "/a", "/b"); err != nil {
		t.Fatal(err)
	}

	if attr, err := d.Getattr(ctx, "/b/f"); err != nil || attr.Size != 2 {
		t.Errorf("getattr after rename: %v, size %d", err, attr.Size)
	}
	// The old name must miss the cache and fail at the server.
	if _, err := d.Getattr(ctx, "/a/f"); !sftp.IsStatus(err, sftp.StatusNoSuchFile) {
		t.Errorf("stale source path produced %v", err)
	}
	if n := srv.OpCount(sftp.OpLstat); n != 3 {
		t.Errorf("served %d lstat round trips, want 3", n)
	}
}

func TestRemoveInvalidatesParentListing(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/dir/a", []byte("a"), 0644)
	srv.Put("/dir/b", []byte("b"), 0644)
	ctx := context.Background()

	if _, err := d.ReadDir(ctx, "/dir"); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(ctx, "/dir/a"); err != nil {
		t.Fatal(err)
	}

	entries, err := d.ReadDir(ctx, "/dir")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "b" {
		t.Errorf("listing after remove: %+v", entries)
	}
	if n := srv.OpCount(sftp.OpOpendir); n != 2 {
		t.Errorf("served %d opendir round trips, want 2", n)
	}
}

func TestSetattrInvalidatesBeforeRoundTrip(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/f", []byte("0123456789"), 0644)
	ctx := context.Background()

	if _, err := d.Getattr(ctx, "/f"); err != nil {
		t.Fatal(err)
	}
	attr := &sftp.Attr{Flags: sftp.AttrFlagSize, Size: 3}
	if err := d.Setattr(ctx, "/f", attr); err != nil {
		t.Fatal(err)
	}

	fresh, err := d.Getattr(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Size != 3 {
		t.Errorf("size after truncate = %d, want 3", fresh.Size)
	}
	if n := srv.OpCount(sftp.OpLstat); n != 2 {
		t.Errorf("served %d lstat round trips, want 2", n)
	}
}

func TestMkdirRmdir(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	ctx := context.Background()

	if err := d.Mkdir(ctx, "/d", 0755); err != nil {
		t.Fatal(err)
	}
	attr, err := d.Getattr(ctx, "/d")
	if err != nil {
		t.Fatal(err)
	}
	if !attr.IsDir() {
		t.Error("created path is not a directory")
	}

	if err := d.Rmdir(ctx, "/d"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Getattr(ctx, "/d"); !sftp.IsStatus(err, sftp.StatusNoSuchFile) {
		t.Errorf("removed directory produced %v", err)
	}
	if srv.Exists("/d") {
		t.Error("directory survived rmdir on the server")
	}
}

func TestSymlinkReadlinkCached(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	ctx := context.Background()

	if err := d.Symlink(ctx, "/target", "/link"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		target, err := d.Readlink(ctx, "/link")
		if err != nil {
			t.Fatal(err)
		}
		if target != "/target" {
			t.Errorf("readlink = %q", target)
		}
	}
	if n := srv.OpCount(sftp.OpReadlink); n != 1 {
		t.Errorf("served %d readlink round trips, want 1", n)
	}
}

func TestStatFSFallback(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{DisableStatVFS: true}, Config{})
	st, err := d.StatFS(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.BlockSize != 4096 || st.MaxNameLength != 255 {
		t.Errorf("fallback statfs: %+v", st)
	}
	// Only the limits query at negotiation time; the fallback never asks
	// the server.
	if n := srv.OpCount(sftp.OpExtended); n != 1 {
		t.Errorf("served %d extended round trips, want 1", n)
	}
}

func TestStatFSExtension(t *testing.T) {
	_, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	st, err := d.StatFS(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Blocks != 1<<20 {
		t.Errorf("statvfs blocks = %d, want %d", st.Blocks, 1<<20)
	}
}

func TestRemoteRootPrefix(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{RemoteRoot: "/export/home"})
	srv.Put("/export/home/f", []byte("xyz"), 0644)

	attr, err := d.Getattr(context.Background(), "/f")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 3 {
		t.Errorf("size = %d, want 3", attr.Size)
	}
}
