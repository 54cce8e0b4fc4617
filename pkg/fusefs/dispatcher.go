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

// Package fusefs translates filesystem operations into protocol requests.
// The Dispatcher holds the per-mount state — one protocol client, one
// directory cache — and implements the operation bodies; the bazil.org/fuse
// node and handle types in this package are thin adapters over it, and the
// mount/serve plumbing lives in the mount command.
package fusefs

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/andy0130tw/sshfs/pkg/dcache"
	"github.com/andy0130tw/sshfs/pkg/sftp"
)

// Config tunes a Dispatcher.
type Config struct {
	// RemoteRoot is the directory on the server the mount exposes.
	RemoteRoot string
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Window bounds concurrently outstanding chunk requests per logical
	// read or write, and the read-ahead depth. Defaults to 4.
	Window int
	// ChunkSize caps transfer chunks. It is clamped to the server's
	// negotiated limits; 0 means use them as-is.
	ChunkSize uint32
}

// Dispatcher is the single entry point for filesystem operations. Every
// method consults or updates the directory cache, issues protocol requests
// as needed, and maps remote failures onto the fixed error taxonomy at the
// FUSE boundary.
type Dispatcher struct {
	cl    *sftp.Client
	cache *dcache.Cache
	log   *zap.Logger

	root       string
	window     int
	readChunk  uint32
	writeChunk uint32

	mu      sync.Mutex
	handles map[string][]*Handle // open handles by remote path
}

// NewDispatcher wires a negotiated client to a cache.
func NewDispatcher(cl *sftp.Client, cache *dcache.Cache, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.Window
	if window <= 0 {
		window = 4
	}
	readChunk := cl.MaxReadSize()
	writeChunk := cl.MaxWriteSize()
	if cfg.ChunkSize > 0 {
		if cfg.ChunkSize < readChunk {
			readChunk = cfg.ChunkSize
		}
		if cfg.ChunkSize < writeChunk {
			writeChunk = cfg.ChunkSize
		}
	}
	root := path.Clean("/" + cfg.RemoteRoot)
	return &Dispatcher{
		cl:         cl,
		cache:      cache,
		log:        logger.Named("fusefs"),
		root:       root,
		window:     window,
		readChunk:  readChunk,
		writeChunk: writeChunk,
		handles:    make(map[string][]*Handle),
	}
}

// remote maps a mount-relative path ("/a/b") onto the server-side path the
// cache is keyed by.
func (d *Dispatcher) remote(rel string) string {
	return path.Join(d.root, rel)
}

// Getattr returns attributes for a path, lstat-style: a final symlink is
// reported as a link, not followed.
func (d *Dispatcher) Getattr(ctx context.Context, rel string) (sftp.Attr, error) {
	p := d.remote(rel)
	if e, ok := d.cache.Lookup(p); ok && e.Kind == dcache.KindStat {
		return e.Attr, nil
	}
	attr, err := d.cl.Lstat(ctx, p)
	if err != nil {
		return sftp.Attr{}, err
	}
	d.cache.PutStat(p, attr)
	return attr, nil
}

// Readlink resolves a symlink target.
func (d *Dispatcher) Readlink(ctx context.Context, rel string) (string, error) {
	p := d.remote(rel)
	if e, ok := d.cache.Lookup(p); ok && e.Kind == dcache.KindLink {
		return e.Target, nil
	}
	target, err := d.cl.Readlink(ctx, p)
	if err != nil {
		return "", err
	}
	d.cache.PutLink(p, target)
	return target, nil
}

// DirStream is a restartable, paginated directory listing. Entries arrive in
// server order; each page round trip also feeds the cache.
type DirStream struct {
	d      *Dispatcher
	path   string // remote path
	handle sftp.Handle
	buf    []sftp.NameEntry
	names  []string
	eof    bool
	closed bool
}

// OpenDir starts a server-side listing of rel.
func (d *Dispatcher) OpenDir(ctx context.Context, rel string) (*DirStream, error) {
	p := d.remote(rel)
	h, err := d.cl.Opendir(ctx, p)
	if err != nil {
		return nil, err
	}
	return &DirStream{d: d, path: p, handle: h}, nil
}

// Next returns the following entry, fetching a new page when the current
// one is exhausted. ok is false once the listing is complete.
func (s *DirStream) Next(ctx context.Context) (e sftp.NameEntry, ok bool, err error) {
	for len(s.buf) == 0 {
		if s.eof {
			return sftp.NameEntry{}, false, nil
		}
		page, err := s.d.cl.ReadDir(ctx, s.handle)
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return sftp.NameEntry{}, false, err
		}
		s.buf = page
		// Every page both extends the sequence and freshens the cache.
		for _, pe := range page {
			if pe.Name == "." || pe.Name == ".." {
				continue
			}
			s.d.cache.PutStat(path.Join(s.path, pe.Name), pe.Attr)
		}
	}
	e = s.buf[0]
	s.buf = s.buf[1:]
	if e.Name != "." && e.Name != ".." {
		s.names = append(s.names, e.Name)
	}
	return e, true, nil
}

// Close releases the remote handle. If the stream was drained to the end,
// the completed listing is committed to the cache.
func (s *DirStream) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.eof {
		s.d.cache.PutDir(s.path, s.names)
	}
	return s.d.cl.CloseHandle(ctx, s.handle)
}

// DirEntry is one name in a listing, with as much of the mode as is known.
type DirEntry struct {
	Name string
	Mode os.FileMode
}

// ReadDir returns the complete listing of rel. A fully cached listing is
// served without any round trip; otherwise the server is paged and the
// cache updated.
func (d *Dispatcher) ReadDir(ctx context.Context, rel string) ([]DirEntry, error) {
	p := d.remote(rel)
	if e, ok := d.cache.Lookup(p); ok && e.Kind == dcache.KindDir {
		out := make([]DirEntry, 0, len(e.Children))
		for _, name := range e.Children {
			var mode os.FileMode
			if ce, ok := d.cache.Lookup(path.Join(p, name)); ok && ce.Kind == dcache.KindStat {
				mode = ce.Attr.FileMode()
			}
			out = append(out, DirEntry{Name: name, Mode: mode})
		}
		return out, nil
	}

	stream, err := d.OpenDir(ctx, rel)
	if err != nil {
		return nil, err
	}
	var out []DirEntry
	for {
		e, ok, err := stream.Next(ctx)
		if err != nil {
			stream.Close(ctx)
			return nil, err
		}
		if !ok {
			break
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, DirEntry{Name: e.Name, Mode: e.Attr.FileMode()})
	}
	if err := stream.Close(ctx); err != nil {
		d.log.Warn("closing directory handle failed", zap.String("path", p), zap.Error(err))
	}
	return out, nil
}

// Mkdir creates a directory.
func (d *Dispatcher) Mkdir(ctx context.Context, rel string, mode os.FileMode) error {
	p := d.remote(rel)
	var attr sftp.Attr
	attr.Flags = sftp.AttrFlagPerms
	attr.Perm = uint32(mode.Perm())
	if err := d.cl.Mkdir(ctx, p, &attr); err != nil {
		return err
	}
	d.invalidateParentListing(p)
	return nil
}

// Rmdir removes a directory and forgets everything cached beneath it.
func (d *Dispatcher) Rmdir(ctx context.Context, rel string) error {
	p := d.remote(rel)
	if err := d.cl.Rmdir(ctx, p); err != nil {
		return err
	}
	d.cache.InvalidateSubtree(p)
	d.invalidateParentListing(p)
	return nil
}

// Remove deletes a file or symlink.
func (d *Dispatcher) Remove(ctx context.Context, rel string) error {
	p := d.remote(rel)
	if err := d.cl.Remove(ctx, p); err != nil {
		return err
	}
	d.cache.Invalidate(p)
	d.invalidateParentListing(p)
	return nil
}

// Rename moves oldRel to newRel. Cached state under both names is dropped
// before the result is surfaced: a rename of a directory strands every
// cached descendant path on both sides.
func (d *Dispatcher) Rename(ctx context.Context, oldRel, newRel string) error {
	oldP, newP := d.remote(oldRel), d.remote(newRel)
	if err := d.cl.Rename(ctx, oldP, newP); err != nil {
		return err
	}
	d.cache.InvalidateSubtree(oldP)
	d.cache.InvalidateSubtree(newP)
	d.invalidateParentListing(oldP)
	d.invalidateParentListing(newP)
	return nil
}

// Symlink creates newRel pointing at target.
func (d *Dispatcher) Symlink(ctx context.Context, target, newRel string) error {
	p := d.remote(newRel)
	if err := d.cl.Symlink(ctx, target, p); err != nil {
		return err
	}
	d.cache.Invalidate(p)
	d.invalidateParentListing(p)
	return nil
}

// Setattr applies attribute changes (truncate, chmod, chown, utimes).
func (d *Dispatcher) Setattr(ctx context.Context, rel string, attr *sftp.Attr) error {
	p := d.remote(rel)
	// Drop the cached stat before the server round trip: once the caller
	// sees success, no stale attributes may be served.
	d.cache.Invalidate(p)
	if err := d.cl.Setstat(ctx, p, attr); err != nil {
		return err
	}
	return nil
}

// StatFS reports filesystem-wide stats, via the statvfs extension when the
// server has it and synthesized defaults otherwise.
func (d *Dispatcher) StatFS(ctx context.Context) (*sftp.StatVFS, error) {
	if !d.cl.HasExtension(sftp.ExtStatVFS) {
		return &sftp.StatVFS{
			BlockSize:     4096,
			FragmentSize:  4096,
			Blocks:        1 << 30,
			BlocksFree:    1 << 29,
			BlocksAvail:   1 << 29,
			Files:         1 << 20,
			FilesFree:     1 << 19,
			FilesAvail:    1 << 19,
			MaxNameLength: 255,
		}, nil
	}
	return d.cl.StatVFS(ctx, d.root)
}

// invalidateParentListing forgets the parent's cached child list after a
// namespace mutation (create, remove, rename, mkdir, symlink).
func (d *Dispatcher) invalidateParentListing(p string) {
	parent := path.Dir(p)
	if e, ok := d.cache.Lookup(parent); ok && e.Kind == dcache.KindDir {
		d.cache.Invalidate(parent)
	}
}

// track registers an open handle for its path, so fsync-by-path can find it.
func (d *Dispatcher) track(h *Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles[h.path] = append(d.handles[h.path], h)
}

func (d *Dispatcher) untrack(h *Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hs := d.handles[h.path]
	for i, other := range hs {
		if other == h {
			d.handles[h.path] = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(d.handles[h.path]) == 0 {
		delete(d.handles, h.path)
	}
}

// FsyncPath flushes every open handle for a mount-relative path.
func (d *Dispatcher) FsyncPath(ctx context.Context, rel string) error {
	p := d.remote(rel)
	d.mu.Lock()
	hs := append([]*Handle(nil), d.handles[p]...)
	d.mu.Unlock()
	for _, h := range hs {
		if err := h.Fsync(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close tears the session down. Every pending request is failed rather than
// left hanging; afterwards all calls fail until a new mount is established.
func (d *Dispatcher) Close() error {
	return d.cl.Close()
}

var errHandleClosed = errors.New("fusefs: handle already released")
