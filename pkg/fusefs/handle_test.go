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
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/andy0130tw/sshfs/pkg/sftp"
	"github.com/andy0130tw/sshfs/pkg/sftp/sftptest"
)

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('a' + i%26)
	}
	return out
}

func TestChunkedReadReassembly(t *testing.T) {
	// A 16-byte transfer limit forces the 64-byte read into four chunks.
	// The intercept delivers data replies pairwise swapped, so reassembly
	// cannot rely on arrival order.
	var mu sync.Mutex
	var held []byte
	opts := sftptest.Options{
		MaxReadSize: 16,
		Intercept: func(frame []byte, send func([]byte)) {
			if len(frame) == 0 || frame[0] != sftp.OpData {
				send(frame)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if held == nil {
				held = frame
				return
			}
			send(frame)
			send(held)
			held = nil
		},
	}
	srv, d := newTestDispatcher(t, opts, Config{})
	content := pattern(64)
	srv.Put("/f", content, 0644)
	ctx := context.Background()

	h, err := d.Open(ctx, "/f", sftp.OpenRead, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Read(ctx, 0, 64)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("reassembled %q, want %q", got, content)
	}
	if n := srv.OpCount(sftp.OpRead); n < 4 {
		t.Errorf("served %d read round trips, want at least 4", n)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestReadStopsAtEOF(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{MaxReadSize: 16}, Config{})
	content := pattern(20)
	srv.Put("/f", content, 0644)
	ctx := context.Background()

	h, err := d.Open(ctx, "/f", sftp.OpenRead, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(ctx)

	// Asking well past the end returns exactly what exists.
	got, err := h.Read(ctx, 0, 64)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("read %d bytes, want %d", len(got), len(content))
	}

	// At the end, the read is empty and still not an error.
	got, err = h.Read(ctx, 20, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("read past end returned %d bytes", len(got))
	}
}

func TestWriteBackCoalescing(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{MaxWriteSize: 16}, Config{})
	srv.Put("/f", nil, 0644)
	ctx := context.Background()

	h, err := d.Open(ctx, "/f", sftp.OpenWrite, 0)
	if err != nil {
		t.Fatal(err)
	}
	content := pattern(32)
	for off := 0; off < len(content); off += 4 {
		if _, err := h.Write(ctx, uint64(off), content[off:off+4]); err != nil {
			t.Fatal(err)
		}
	}

	// Eight small writes coalesced into two full 16-byte flushes.
	if n := srv.OpCount(sftp.OpWrite); n != 2 {
		t.Errorf("served %d write round trips before fsync, want 2", n)
	}
	if err := h.Fsync(ctx); err != nil {
		t.Fatal(err)
	}
	if n := srv.OpCount(sftp.OpWrite); n != 2 {
		t.Errorf("served %d write round trips after fsync, want 2", n)
	}

	if stored, ok := srv.Content("/f"); !ok || !bytes.Equal(stored, content) {
		t.Errorf("server stored %q, want %q", stored, content)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestNonSequentialWriteFlushesFirst(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/f", nil, 0644)
	ctx := context.Background()

	h, err := d.Open(ctx, "/f", sftp.OpenWrite, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write(ctx, 0, []byte("head")); err != nil {
		t.Fatal(err)
	}
	// Jumping to a far offset pushes the pending run out first.
	if _, err := h.Write(ctx, 100, []byte("tail")); err != nil {
		t.Fatal(err)
	}
	if n := srv.OpCount(sftp.OpWrite); n != 1 {
		t.Errorf("served %d write round trips, want 1", n)
	}

	if err := h.Fsync(ctx); err != nil {
		t.Fatal(err)
	}
	stored, ok := srv.Content("/f")
	if !ok || len(stored) != 104 {
		t.Fatalf("server stored %d bytes, want 104", len(stored))
	}
	if string(stored[:4]) != "head" || string(stored[100:]) != "tail" {
		t.Errorf("content mismatch: %q ... %q", stored[:4], stored[100:])
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestReadSeesBufferedWrites(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/f", nil, 0644)
	ctx := context.Background()

	h, err := d.Open(ctx, "/f", sftp.OpenRead|sftp.OpenWrite, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(ctx)

	if _, err := h.Write(ctx, 0, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	// The buffered run must be flushed before the read is served.
	got, err := h.Read(ctx, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("read back %q", got)
	}
	if n := srv.OpCount(sftp.OpWrite); n != 1 {
		t.Errorf("served %d write round trips, want 1", n)
	}
}

func TestReleaseFlushes(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/f", nil, 0644)
	ctx := context.Background()

	h, err := d.Open(ctx, "/f", sftp.OpenWrite, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write(ctx, 0, []byte("late")); err != nil {
		t.Fatal(err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}

	if stored, _ := srv.Content("/f"); string(stored) != "late" {
		t.Errorf("server stored %q after release", stored)
	}
	// The handle is dead now.
	if _, err := h.Write(ctx, 4, []byte("x")); err != errHandleClosed {
		t.Errorf("write after release produced %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Errorf("second release: %v", err)
	}
}

func TestTruncatingOpenInvalidatesStat(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/f", []byte("content"), 0644)
	ctx := context.Background()

	if attr, err := d.Getattr(ctx, "/f"); err != nil || attr.Size != 7 {
		t.Fatalf("prime getattr: %v, size %d", err, attr.Size)
	}

	h, err := d.Open(ctx, "/f", sftp.OpenWrite|sftp.OpenTrunc, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(ctx)

	attr, err := d.Getattr(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 0 {
		t.Errorf("size after truncating open = %d, want 0", attr.Size)
	}
	if n := srv.OpCount(sftp.OpLstat); n != 2 {
		t.Errorf("served %d lstat round trips, want 2", n)
	}
}

func TestCreateOpenPopulatesTree(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	ctx := context.Background()

	h, err := d.Open(ctx, "/new", sftp.OpenWrite|sftp.OpenCreate|sftp.OpenExcl, 0640)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if !srv.Exists("/new") {
		t.Fatal("create did not reach the server")
	}

	attr, err := d.Getattr(ctx, "/new")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Perm&0777 != 0640 {
		t.Errorf("created with perm %o, want 640", attr.Perm&0777)
	}

	// A second exclusive create must fail with the already-exists status.
	if _, err := d.Open(ctx, "/new", sftp.OpenWrite|sftp.OpenCreate|sftp.OpenExcl, 0640); !sftp.IsStatus(err, sftp.StatusFileAlreadyExists) {
		t.Errorf("exclusive recreate produced %v", err)
	}
}

func TestSequentialReadsPrefetch(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{MaxReadSize: 16}, Config{Window: 2})
	content := pattern(256)
	srv.Put("/f", content, 0644)
	ctx := context.Background()

	h, err := d.Open(ctx, "/f", sftp.OpenRead, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(ctx)

	var got []byte
	for off := uint64(0); off < 256; off += 16 {
		part, err := h.Read(ctx, off, 16)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, part...)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("sequential read returned %d bytes, mismatch at %d", len(got), firstDiff(got, content))
	}
}

func TestGetattrAfterFsyncSeesFlushedSize(t *testing.T) {
	srv, d := newTestDispatcher(t, sftptest.Options{}, Config{})
	srv.Put("/f", nil, 0644)
	ctx := context.Background()

	h, err := d.Open(ctx, "/f", sftp.OpenWrite, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write(ctx, 0, pattern(10)); err != nil {
		t.Fatal(err)
	}

	// The write is still buffered, so a stat in between legitimately sees
	// the old size and caches it.
	if attr, err := d.Getattr(ctx, "/f"); err != nil || attr.Size != 0 {
		t.Fatalf("getattr before flush: %v, size %d, want 0", err, attr.Size)
	}

	if err := h.Fsync(ctx); err != nil {
		t.Fatal(err)
	}
	// Fsync confirmed the bytes on the server; the interim stat entry must
	// not be served anymore.
	attr, err := d.Getattr(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 10 {
		t.Errorf("size after confirmed fsync = %d, want 10", attr.Size)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func firstDiff(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
