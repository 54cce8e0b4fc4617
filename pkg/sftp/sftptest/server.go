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

// Package sftptest runs a file-transfer server against an in-memory tree,
// for exercising the client without a remote host. It is intentionally
// small: one request at a time, no permissions model, paths as map keys.
package sftptest

import (
	"fmt"
	"net"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/andy0130tw/sshfs/pkg/sftp"
	"github.com/andy0130tw/sshfs/pkg/transport"
)

// Options configures a test server.
type Options struct {
	// PageSize is the number of entries per readdir page. Defaults to 64.
	PageSize int
	// Version overrides the advertised protocol version, to provoke
	// negotiation failures.
	Version uint32
	// DisableStatVFS drops the statvfs extension advertisement.
	DisableStatVFS bool
	// DisableLimits drops the limits extension advertisement.
	DisableLimits bool
	// MaxReadSize/MaxWriteSize are the limits reported when the limits
	// extension is queried. Default 64 KiB.
	MaxReadSize  uint64
	MaxWriteSize uint64
	// Intercept, when set, receives every reply frame instead of it being
	// written directly; it may reorder, drop, or forward via send. Called
	// from the serve goroutine.
	Intercept func(frame []byte, send func([]byte))
}

type node struct {
	perm   uint32 // POSIX mode word including file-type bits
	uid    uint32
	gid    uint32
	atime  uint32
	mtime  uint32
	data   []byte
	target string // symlink target when this is a link
}

func (n *node) isDir() bool  { return n.perm&0170000 == 0040000 }
func (n *node) isLink() bool { return n.perm&0170000 == 0120000 }

type openHandle struct {
	path    string
	dir     bool
	entries []sftp.NameEntry // snapshot for directory paging
	pos     int
}

// Server serves the protocol over one channel against an in-memory tree.
type Server struct {
	opts Options
	ch   transport.Channel

	mu      sync.Mutex
	nodes   map[string]*node
	handles map[string]*openHandle
	nextFH  int
	counts  map[uint8]int

	done chan struct{}
}

// NewPair starts a server over an in-process pipe and returns it together
// with the client half of the connection.
func NewPair(opts Options) (*Server, transport.Channel) {
	if opts.PageSize <= 0 {
		opts.PageSize = 64
	}
	if opts.Version == 0 {
		opts.Version = sftp.ProtocolVersion
	}
	if opts.MaxReadSize == 0 {
		opts.MaxReadSize = 64 * 1024
	}
	if opts.MaxWriteSize == 0 {
		opts.MaxWriteSize = 64 * 1024
	}

	c1, c2 := net.Pipe()
	s := &Server{
		opts:    opts,
		ch:      transport.NewStream(c2, c2, c2),
		nodes:   map[string]*node{"/": {perm: 0040755}},
		handles: make(map[string]*openHandle),
		counts:  make(map[uint8]int),
		done:    make(chan struct{}),
	}
	go s.serve()
	return s, transport.NewStream(c1, c1, c1)
}

// Close tears down the server side of the connection.
func (s *Server) Close() {
	s.ch.Close()
	<-s.done
}

// OpCount returns how many requests of the given type have been served.
func (s *Server) OpCount(op uint8) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// Put seeds a regular file.
func (s *Server) Put(p string, data []byte, perm uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureParents(p)
	s.nodes[clean(p)] = &node{perm: 0100000 | perm, data: append([]byte(nil), data...)}
}

// Mkdir seeds a directory.
func (s *Server) Mkdir(p string, perm uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureParents(p)
	s.nodes[clean(p)] = &node{perm: 0040000 | perm}
}

// SymlinkNode seeds a symbolic link.
func (s *Server) SymlinkNode(p, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureParents(p)
	s.nodes[clean(p)] = &node{perm: 0120777, target: target}
}

// Content returns the current bytes of a seeded or written file.
func (s *Server) Content(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[clean(p)]
	if !ok || n.isDir() {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists reports whether a path is present in the tree.
func (s *Server) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[clean(p)]
	return ok
}

func (s *Server) ensureParents(p string) {
	dir := path.Dir(clean(p))
	for dir != "/" {
		if _, ok := s.nodes[dir]; !ok {
			s.nodes[dir] = &node{perm: 0040755}
		}
		dir = path.Dir(dir)
	}
}

func clean(p string) string {
	p = path.Clean("/" + p)
	return p
}

func (s *Server) serve() {
	defer close(s.done)
	for {
		frame, err := s.ch.ReadFrame()
		if err != nil {
			return
		}
		for _, reply := range s.handle(frame) {
			s.emit(reply)
		}
	}
}

func (s *Server) emit(frame []byte) {
	if s.opts.Intercept != nil {
		s.opts.Intercept(frame, func(f []byte) { s.ch.WriteFrame(f) })
		return
	}
	s.ch.WriteFrame(frame)
}

func (s *Server) handle(frame []byte) [][]byte {
	if len(frame) < 1 {
		return nil
	}
	op := frame[0]

	if op == sftp.OpInit {
		m := sftp.NewMarshaler(64)
		m.Byte(sftp.OpVersion)
		m.Uint32(s.opts.Version)
		if !s.opts.DisableStatVFS {
			m.String(sftp.ExtStatVFS)
			m.String("2")
		}
		if !s.opts.DisableLimits {
			m.String(sftp.ExtLimits)
			m.String("1")
		}
		return [][]byte{m.Payload()}
	}

	u := sftp.NewUnmarshaler(frame[1:])
	id := u.Uint32()
	if u.Err() != nil {
		return nil
	}

	s.mu.Lock()
	s.counts[op]++
	s.mu.Unlock()

	reply := s.dispatch(op, id, u)
	if reply == nil {
		return nil
	}
	return [][]byte{reply}
}

func (s *Server) dispatch(op uint8, id uint32, u *sftp.Unmarshaler) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case sftp.OpLstat, sftp.OpStat:
		p := clean(u.String())
		n, ok := s.nodes[p]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such file")
		}
		if op == sftp.OpStat && n.isLink() {
			target, ok := s.nodes[clean(n.target)]
			if !ok {
				return status(id, sftp.StatusNoSuchFile, "dangling link")
			}
			n = target
		}
		return attrsReply(id, n)

	case sftp.OpFstat:
		h := string(u.Bytes())
		oh, ok := s.handles[h]
		if !ok {
			return status(id, sftp.StatusInvalidHandle, "bad handle")
		}
		n, ok := s.nodes[oh.path]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such file")
		}
		return attrsReply(id, n)

	case sftp.OpSetstat, sftp.OpFsetstat:
		var p string
		if op == sftp.OpSetstat {
			p = clean(u.String())
		} else {
			oh, ok := s.handles[string(u.Bytes())]
			if !ok {
				return status(id, sftp.StatusInvalidHandle, "bad handle")
			}
			p = oh.path
		}
		var attr sftp.Attr
		attr.Unmarshal(u)
		n, ok := s.nodes[p]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such file")
		}
		if attr.Flags&sftp.AttrFlagSize != 0 {
			if attr.Size <= uint64(len(n.data)) {
				n.data = n.data[:attr.Size]
			} else {
				n.data = append(n.data, make([]byte, attr.Size-uint64(len(n.data)))...)
			}
		}
		if attr.Flags&sftp.AttrFlagPerms != 0 {
			n.perm = n.perm&0170000 | attr.Perm&07777
		}
		if attr.Flags&sftp.AttrFlagUIDGID != 0 {
			n.uid, n.gid = attr.UID, attr.GID
		}
		if attr.Flags&sftp.AttrFlagACModTime != 0 {
			n.atime, n.mtime = attr.Atime, attr.Mtime
		}
		return status(id, sftp.StatusOK, "")

	case sftp.OpOpen:
		p := clean(u.String())
		pflags := u.Uint32()
		var attr sftp.Attr
		attr.Unmarshal(u)
		n, exists := s.nodes[p]
		switch {
		case exists && pflags&sftp.OpenExcl != 0:
			return status(id, sftp.StatusFileAlreadyExists, "file exists")
		case !exists && pflags&sftp.OpenCreate == 0:
			return status(id, sftp.StatusNoSuchFile, "no such file")
		case !exists:
			perm := uint32(0644)
			if attr.Flags&sftp.AttrFlagPerms != 0 {
				perm = attr.Perm & 07777
			}
			s.ensureParents(p)
			n = &node{perm: 0100000 | perm}
			s.nodes[p] = n
		}
		if n.isDir() {
			return status(id, sftp.StatusFailure, "is a directory")
		}
		if pflags&sftp.OpenTrunc != 0 {
			n.data = nil
		}
		return s.handleReply(id, p, false)

	case sftp.OpOpendir:
		p := clean(u.String())
		n, ok := s.nodes[p]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such directory")
		}
		if !n.isDir() {
			return status(id, sftp.StatusNotADirectory, "not a directory")
		}
		return s.handleReply(id, p, true)

	case sftp.OpClose:
		h := string(u.Bytes())
		if _, ok := s.handles[h]; !ok {
			return status(id, sftp.StatusInvalidHandle, "bad handle")
		}
		delete(s.handles, h)
		return status(id, sftp.StatusOK, "")

	case sftp.OpRead:
		h := string(u.Bytes())
		offset := u.Uint64()
		length := u.Uint32()
		oh, ok := s.handles[h]
		if !ok || oh.dir {
			return status(id, sftp.StatusInvalidHandle, "bad handle")
		}
		n, ok := s.nodes[oh.path]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such file")
		}
		if offset >= uint64(len(n.data)) {
			return status(id, sftp.StatusEOF, "eof")
		}
		end := offset + uint64(length)
		if end > uint64(len(n.data)) {
			end = uint64(len(n.data))
		}
		m := sftp.NewMarshaler(int(end-offset) + 16)
		m.Byte(sftp.OpData)
		m.Uint32(id)
		m.Bytes(n.data[offset:end])
		return m.Payload()

	case sftp.OpWrite:
		h := string(u.Bytes())
		offset := u.Uint64()
		data := u.Bytes()
		oh, ok := s.handles[h]
		if !ok || oh.dir {
			return status(id, sftp.StatusInvalidHandle, "bad handle")
		}
		n, ok := s.nodes[oh.path]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such file")
		}
		if need := offset + uint64(len(data)); need > uint64(len(n.data)) {
			n.data = append(n.data, make([]byte, need-uint64(len(n.data)))...)
		}
		copy(n.data[offset:], data)
		return status(id, sftp.StatusOK, "")

	case sftp.OpReaddir:
		h := string(u.Bytes())
		oh, ok := s.handles[h]
		if !ok || !oh.dir {
			return status(id, sftp.StatusInvalidHandle, "bad handle")
		}
		if oh.entries == nil {
			oh.entries = s.listLocked(oh.path)
		}
		if oh.pos >= len(oh.entries) {
			return status(id, sftp.StatusEOF, "eof")
		}
		end := oh.pos + s.opts.PageSize
		if end > len(oh.entries) {
			end = len(oh.entries)
		}
		page := oh.entries[oh.pos:end]
		oh.pos = end
		m := sftp.NewMarshaler(256)
		m.Byte(sftp.OpName)
		m.Uint32(id)
		m.Uint32(uint32(len(page)))
		for _, e := range page {
			m.String(e.Name)
			e.Attr.Marshal(m)
		}
		return m.Payload()

	case sftp.OpRemove:
		p := clean(u.String())
		n, ok := s.nodes[p]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such file")
		}
		if n.isDir() {
			return status(id, sftp.StatusFailure, "is a directory")
		}
		delete(s.nodes, p)
		return status(id, sftp.StatusOK, "")

	case sftp.OpMkdir:
		p := clean(u.String())
		if _, ok := s.nodes[p]; ok {
			return status(id, sftp.StatusFileAlreadyExists, "exists")
		}
		var attr sftp.Attr
		attr.Unmarshal(u)
		perm := uint32(0755)
		if attr.Flags&sftp.AttrFlagPerms != 0 {
			perm = attr.Perm & 07777
		}
		s.ensureParents(p)
		s.nodes[p] = &node{perm: 0040000 | perm}
		return status(id, sftp.StatusOK, "")

	case sftp.OpRmdir:
		p := clean(u.String())
		n, ok := s.nodes[p]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such directory")
		}
		if !n.isDir() {
			return status(id, sftp.StatusNotADirectory, "not a directory")
		}
		if len(s.listLocked(p)) > 0 {
			return status(id, sftp.StatusDirNotEmpty, "directory not empty")
		}
		delete(s.nodes, p)
		return status(id, sftp.StatusOK, "")

	case sftp.OpRename:
		oldPath := clean(u.String())
		newPath := clean(u.String())
		if _, ok := s.nodes[oldPath]; !ok {
			return status(id, sftp.StatusNoSuchFile, "no such file")
		}
		// Move the node and, when it is a directory, its whole subtree.
		moved := map[string]*node{}
		for p, n := range s.nodes {
			if p == oldPath || strings.HasPrefix(p, oldPath+"/") {
				moved[newPath+p[len(oldPath):]] = n
				delete(s.nodes, p)
			}
		}
		for p, n := range moved {
			s.nodes[p] = n
		}
		return status(id, sftp.StatusOK, "")

	case sftp.OpSymlink:
		target := u.String()
		linkPath := clean(u.String())
		if _, ok := s.nodes[linkPath]; ok {
			return status(id, sftp.StatusFileAlreadyExists, "exists")
		}
		s.ensureParents(linkPath)
		s.nodes[linkPath] = &node{perm: 0120777, target: target}
		return status(id, sftp.StatusOK, "")

	case sftp.OpReadlink:
		p := clean(u.String())
		n, ok := s.nodes[p]
		if !ok {
			return status(id, sftp.StatusNoSuchFile, "no such file")
		}
		if !n.isLink() {
			return status(id, sftp.StatusFailure, "not a link")
		}
		return nameReply(id, n.target)

	case sftp.OpRealpath:
		return nameReply(id, clean(u.String()))

	case sftp.OpExtended:
		name := u.String()
		switch name {
		case sftp.ExtLimits:
			if s.opts.DisableLimits {
				return status(id, sftp.StatusOpUnsupported, "unsupported")
			}
			m := sftp.NewMarshaler(32)
			m.Byte(sftp.OpExtendedReply)
			m.Uint32(id)
			m.Uint64(s.opts.MaxReadSize + 1024)
			m.Uint64(s.opts.MaxReadSize)
			m.Uint64(s.opts.MaxWriteSize)
			return m.Payload()
		case sftp.ExtStatVFS:
			if s.opts.DisableStatVFS {
				return status(id, sftp.StatusOpUnsupported, "unsupported")
			}
			m := sftp.NewMarshaler(96)
			m.Byte(sftp.OpExtendedReply)
			m.Uint32(id)
			for _, v := range []uint64{4096, 4096, 1 << 20, 1 << 19, 1 << 19, 1 << 16, 1 << 15, 1 << 15, 42, 0, 255} {
				m.Uint64(v)
			}
			return m.Payload()
		default:
			return status(id, sftp.StatusOpUnsupported, fmt.Sprintf("unknown extension %q", name))
		}

	default:
		return status(id, sftp.StatusOpUnsupported, fmt.Sprintf("unsupported op %d", op))
	}
}

func (s *Server) handleReply(id uint32, p string, dir bool) []byte {
	s.nextFH++
	h := fmt.Sprintf("fh-%d", s.nextFH)
	s.handles[h] = &openHandle{path: p, dir: dir}
	m := sftp.NewMarshaler(16)
	m.Byte(sftp.OpHandle)
	m.Uint32(id)
	m.String(h)
	return m.Payload()
}

func (s *Server) listLocked(dir string) []sftp.NameEntry {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var entries []sftp.NameEntry
	for p, n := range s.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if strings.Contains(rest, "/") {
			continue
		}
		entries = append(entries, sftp.NameEntry{Name: rest, Attr: nodeAttr(n)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func nodeAttr(n *node) sftp.Attr {
	return sftp.Attr{
		Flags: sftp.AttrFlagSize | sftp.AttrFlagUIDGID | sftp.AttrFlagPerms | sftp.AttrFlagACModTime,
		Size:  uint64(len(n.data)),
		UID:   n.uid,
		GID:   n.gid,
		Perm:  n.perm,
		Atime: n.atime,
		Mtime: n.mtime,
	}
}

func attrsReply(id uint32, n *node) []byte {
	m := sftp.NewMarshaler(48)
	m.Byte(sftp.OpAttrs)
	m.Uint32(id)
	a := nodeAttr(n)
	a.Marshal(m)
	return m.Payload()
}

func nameReply(id uint32, name string) []byte {
	m := sftp.NewMarshaler(32 + len(name))
	m.Byte(sftp.OpName)
	m.Uint32(id)
	m.Uint32(1)
	m.String(name)
	var attr sftp.Attr
	attr.Marshal(m)
	return m.Payload()
}

func status(id uint32, code uint32, msg string) []byte {
	m := sftp.NewMarshaler(16 + len(msg))
	m.Byte(sftp.OpStatus)
	m.Uint32(id)
	m.Uint32(code)
	m.String(msg)
	return m.Payload()
}
