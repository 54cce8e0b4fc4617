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
	"io"
	"os"
	"sync"

	"github.com/andy0130tw/sshfs/pkg/sftp"
)

// Handle is one open remote file. It owns a read-ahead window and a
// write-back buffer; both belong to this handle alone, so the only
// synchronization needed is against concurrent calls on the same handle.
type Handle struct {
	d    *Dispatcher
	path string // remote path, the cache key
	fh   sftp.Handle

	mu     sync.Mutex
	closed bool

	// Write-back: wbuf holds bytes not yet sent, starting at file offset
	// wbase. Flushes go out in strictly increasing offset order.
	wbase uint64
	wbuf  []byte

	// Read-ahead: speculative chunk requests issued past the last
	// sequential read, oldest first, contiguous from prefetches[0].off.
	prefetches []*prefetch
	raNext     uint64 // offset the next sequential read would use
	raEnd      uint64 // end of the furthest speculative chunk
}

type prefetchResult struct {
	data []byte
	err  error
}

type prefetch struct {
	off    uint64
	length uint32
	ch     chan prefetchResult
}

// Open opens a remote file. pflags are protocol open flags; mode is applied
// when the open may create. A truncating or creating open drops cached state
// made stale by it.
func (d *Dispatcher) Open(ctx context.Context, rel string, pflags uint32, mode os.FileMode) (*Handle, error) {
	p := d.remote(rel)
	var attr *sftp.Attr
	if pflags&sftp.OpenCreate != 0 {
		attr = &sftp.Attr{Flags: sftp.AttrFlagPerms, Perm: uint32(mode.Perm())}
	}
	fh, err := d.cl.Open(ctx, p, pflags, attr)
	if err != nil {
		return nil, err
	}
	if pflags&sftp.OpenTrunc != 0 {
		d.cache.Invalidate(p)
	}
	if pflags&sftp.OpenCreate != 0 {
		d.cache.Invalidate(p)
		d.invalidateParentListing(p)
	}
	h := &Handle{d: d, path: p, fh: fh}
	d.track(h)
	return h, nil
}

// Path returns the remote path the handle refers to.
func (h *Handle) Path() string { return h.path }

// Read returns up to size bytes at off. The logical read is split into
// chunks within the negotiated limit; chunk requests run concurrently up to
// the window and the results are stitched together in offset order no
// matter how their replies interleave. Sequential access triggers
// speculative chunk requests past the end of this read.
func (h *Handle) Read(ctx context.Context, off uint64, size uint32) ([]byte, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errHandleClosed
	}
	// Buffered writes may overlap this range; push them out first so the
	// caller reads its own writes.
	if len(h.wbuf) > 0 {
		if err := h.flushLocked(ctx); err != nil {
			h.mu.Unlock()
			return nil, err
		}
	}

	type part struct {
		span sftp.Span
		pf   *prefetch
	}
	var parts []part
	ck := sftp.NewChunker(off, uint64(size), h.d.readChunk)
	for ck.Next() {
		span := ck.Value()
		parts = append(parts, part{span: span, pf: h.takePrefetchLocked(span)})
	}
	h.mu.Unlock()

	// Issue the chunks the read-ahead window did not already cover.
	sem := make(chan struct{}, h.d.window)
	for i := range parts {
		if parts[i].pf != nil {
			continue
		}
		pf := &prefetch{off: parts[i].span.Offset, length: parts[i].span.Length, ch: make(chan prefetchResult, 1)}
		parts[i].pf = pf
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			data, err := h.d.cl.Read(ctx, h.fh, pf.off, pf.length)
			pf.ch <- prefetchResult{data: data, err: err}
		}()
	}

	// Reassemble in offset order regardless of arrival order.
	out := make([]byte, 0, size)
	eof := false
	var firstErr error
	for _, p := range parts {
		if eof || firstErr != nil {
			continue // later chunks are abandoned; their results are dropped
		}
		var res prefetchResult
		select {
		case res = <-p.pf.ch:
		case <-ctx.Done():
			firstErr = ctx.Err()
			continue
		}
		switch {
		case res.err == io.EOF:
			eof = true
		case res.err != nil:
			firstErr = res.err
		default:
			out = append(out, res.data...)
			if len(res.data) < int(p.span.Length) {
				eof = true
			}
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	h.mu.Lock()
	sequential := off == h.raNext || (off == 0 && h.raNext == 0)
	h.raNext = off + uint64(len(out))
	if sequential && !eof {
		h.fillPrefetchLocked(h.raNext)
	}
	h.mu.Unlock()
	return out, nil
}

// takePrefetchLocked consumes the oldest speculative chunk if it matches the
// span exactly. A mismatch means the access pattern changed; the whole
// window is discarded rather than served out of place.
func (h *Handle) takePrefetchLocked(span sftp.Span) *prefetch {
	if len(h.prefetches) == 0 {
		return nil
	}
	head := h.prefetches[0]
	if head.off == span.Offset && head.length == span.Length {
		h.prefetches = h.prefetches[1:]
		return head
	}
	h.dropPrefetchLocked()
	return nil
}

// fillPrefetchLocked tops the speculative window up to the dispatcher's
// bound, starting no earlier than from.
func (h *Handle) fillPrefetchLocked(from uint64) {
	if h.raEnd < from {
		h.raEnd = from
	}
	for len(h.prefetches) < h.d.window {
		pf := &prefetch{off: h.raEnd, length: h.d.readChunk, ch: make(chan prefetchResult, 1)}
		h.prefetches = append(h.prefetches, pf)
		h.raEnd += uint64(pf.length)
		go func() {
			data, err := h.d.cl.Read(context.Background(), h.fh, pf.off, pf.length)
			pf.ch <- prefetchResult{data: data, err: err}
		}()
	}
}

// dropPrefetchLocked abandons all speculative chunks. Their replies drain
// into buffered channels and are garbage collected.
func (h *Handle) dropPrefetchLocked() {
	h.prefetches = nil
	h.raEnd = 0
}

// Write buffers data at off, coalescing sequential writes into full-size
// chunks. The cached stat for the path is dropped before the write is
// acknowledged: a getattr after this call must round-trip, not report the
// old size.
func (h *Handle) Write(ctx context.Context, off uint64, data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, errHandleClosed
	}

	h.d.cache.Invalidate(h.path)
	h.dropPrefetchLocked()

	switch {
	case len(h.wbuf) == 0:
		h.wbase = off
		h.wbuf = append(h.wbuf[:0], data...)
	case off == h.wbase+uint64(len(h.wbuf)):
		h.wbuf = append(h.wbuf, data...)
	default:
		// Non-sequential write: push the old run out, then start a new one.
		if err := h.flushLocked(ctx); err != nil {
			return 0, err
		}
		h.wbase = off
		h.wbuf = append([]byte(nil), data...)
	}

	// Send any full chunks now; the partial tail waits for more data or a
	// flush.
	for uint64(len(h.wbuf)) >= uint64(h.d.writeChunk) {
		n := h.d.writeChunk
		if err := h.d.cl.Write(ctx, h.fh, h.wbase, h.wbuf[:n]); err != nil {
			h.wbuf = nil
			return 0, err
		}
		h.wbase += uint64(n)
		h.wbuf = h.wbuf[n:]
	}
	return len(data), nil
}

// flushLocked sends everything buffered, in offset order, and waits for
// each acknowledgement. On failure the unflushed bytes are discarded — the
// triggering call gets the error instead of a silent retry loop.
func (h *Handle) flushLocked(ctx context.Context) error {
	if len(h.wbuf) == 0 {
		return nil
	}
	// The flush changes the remote file; a stat cached while the bytes sat
	// in the buffer is stale the moment they land.
	defer h.d.cache.Invalidate(h.path)
	for len(h.wbuf) > 0 {
		n := uint64(len(h.wbuf))
		if n > uint64(h.d.writeChunk) {
			n = uint64(h.d.writeChunk)
		}
		if err := h.d.cl.Write(ctx, h.fh, h.wbase, h.wbuf[:n]); err != nil {
			h.wbuf = nil
			return err
		}
		h.wbase += n
		h.wbuf = h.wbuf[n:]
	}
	h.wbuf = nil
	return nil
}

// Fsync flushes buffered writes and returns only once every one of them has
// a confirmed reply.
func (h *Handle) Fsync(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHandleClosed
	}
	return h.flushLocked(ctx)
}

// Flush is the close-time flush; same contract as Fsync.
func (h *Handle) Flush(ctx context.Context) error {
	return h.Fsync(ctx)
}

// Release flushes and closes the remote handle. The handle is unusable
// afterwards.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	flushErr := h.flushLocked(ctx)
	h.closed = true
	h.dropPrefetchLocked()
	h.mu.Unlock()

	h.d.untrack(h)
	closeErr := h.d.cl.CloseHandle(ctx, h.fh)
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
