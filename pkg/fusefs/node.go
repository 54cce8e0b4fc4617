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
	"hash/fnv"
	"os"
	"path"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/andy0130tw/sshfs/pkg/sftp"
)

// attrTTL is how long the kernel may use returned attributes before asking
// again. Short, because other clients can mutate the remote tree behind our
// back; the directory cache absorbs the re-asks.
const attrTTL = time.Second

// FS is the bazil.org/fuse filesystem rooted at the dispatcher's remote root.
type FS struct {
	d *Dispatcher
}

// NewFS wraps a dispatcher for serving.
func NewFS(d *Dispatcher) *FS { return &FS{d: d} }

func (f *FS) Root() (fs.Node, error) {
	return &Node{d: f.d, rel: "/"}, nil
}

func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	st, err := f.d.StatFS(ctx)
	if err != nil {
		return toErrno(err)
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.BlocksFree
	resp.Bavail = st.BlocksAvail
	resp.Files = st.Files
	resp.Ffree = st.FilesFree
	resp.Bsize = uint32(st.BlockSize)
	resp.Frsize = uint32(st.FragmentSize)
	resp.Namelen = uint32(st.MaxNameLength)
	return nil
}

// Node is one remote path. Nodes are cheap and stateless; everything they
// know comes from the dispatcher per call.
type Node struct {
	d   *Dispatcher
	rel string
}

// inode derives a stable inode number from the remote path. The server does
// not expose inode numbers over the wire, so a path hash is the best
// identity available.
func (n *Node) inode() uint64 {
	h := fnv.New64a()
	h.Write([]byte(n.d.remote(n.rel)))
	return h.Sum64()
}

func (n *Node) fill(a *fuse.Attr, attr sftp.Attr) {
	a.Valid = attrTTL
	a.Inode = n.inode()
	a.Size = attr.Size
	a.Blocks = (attr.Size + 511) / 512
	a.Mode = attr.FileMode()
	a.Uid = attr.UID
	a.Gid = attr.GID
	a.Atime = attr.AccessTime()
	a.Mtime = attr.ModTime()
	a.Ctime = attr.ModTime()
	a.Nlink = 1
}

func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := n.d.Getattr(ctx, n.rel)
	if err != nil {
		return toErrno(err)
	}
	n.fill(a, attr)
	return nil
}

func (n *Node) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child := &Node{d: n.d, rel: path.Join(n.rel, name)}
	if _, err := n.d.Getattr(ctx, child.rel); err != nil {
		return nil, toErrno(err)
	}
	return child, nil
}

func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := n.d.ReadDir(ctx, n.rel)
	if err != nil {
		return nil, toErrno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		child := &Node{d: n.d, rel: path.Join(n.rel, e.Name)}
		dt := fuse.DT_Unknown
		switch {
		case e.Mode.IsDir():
			dt = fuse.DT_Dir
		case e.Mode&os.ModeSymlink != 0:
			dt = fuse.DT_Link
		case e.Mode.IsRegular():
			dt = fuse.DT_File
		}
		dirents = append(dirents, fuse.Dirent{Inode: child.inode(), Name: e.Name, Type: dt})
	}
	return dirents, nil
}

func (n *Node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	child := &Node{d: n.d, rel: path.Join(n.rel, req.Name)}
	if err := n.d.Mkdir(ctx, child.rel, req.Mode); err != nil {
		return nil, toErrno(err)
	}
	return child, nil
}

func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	rel := path.Join(n.rel, req.Name)
	var err error
	if req.Dir {
		err = n.d.Rmdir(ctx, rel)
	} else {
		err = n.d.Remove(ctx, rel)
	}
	if err != nil {
		return toErrno(err)
	}
	return nil
}

func (n *Node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	nd, ok := newDir.(*Node)
	if !ok {
		return fuse.Errno(syscall.EIO)
	}
	oldRel := path.Join(n.rel, req.OldName)
	newRel := path.Join(nd.rel, req.NewName)
	if err := n.d.Rename(ctx, oldRel, newRel); err != nil {
		return toErrno(err)
	}
	return nil
}

func (n *Node) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	child := &Node{d: n.d, rel: path.Join(n.rel, req.NewName)}
	if err := n.d.Symlink(ctx, req.Target, child.rel); err != nil {
		return nil, toErrno(err)
	}
	return child, nil
}

func (n *Node) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := n.d.Readlink(ctx, n.rel)
	if err != nil {
		return "", toErrno(err)
	}
	return target, nil
}

func (n *Node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	var attr sftp.Attr

	if req.Valid.Size() {
		// Buffered writes must land before a truncate, or the flush would
		// resurrect bytes past the new end.
		if err := n.d.FsyncPath(ctx, n.rel); err != nil {
			return toErrno(err)
		}
		attr.Flags |= sftp.AttrFlagSize
		attr.Size = req.Size
	}
	if req.Valid.Mode() {
		attr.Flags |= sftp.AttrFlagPerms
		attr.Perm = uint32(req.Mode.Perm())
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		// The wire format carries uid and gid together, so the half not
		// being changed keeps its current value.
		cur, err := n.d.Getattr(ctx, n.rel)
		if err != nil {
			return toErrno(err)
		}
		attr.Flags |= sftp.AttrFlagUIDGID
		attr.UID, attr.GID = cur.UID, cur.GID
		if req.Valid.Uid() {
			attr.UID = req.Uid
		}
		if req.Valid.Gid() {
			attr.GID = req.Gid
		}
	}
	wantAtime := req.Valid.Atime() || req.Valid.AtimeNow()
	wantMtime := req.Valid.Mtime() || req.Valid.MtimeNow()
	if wantAtime || wantMtime {
		cur, err := n.d.Getattr(ctx, n.rel)
		if err != nil {
			return toErrno(err)
		}
		attr.Flags |= sftp.AttrFlagACModTime
		attr.Atime, attr.Mtime = cur.Atime, cur.Mtime
		now := uint32(time.Now().Unix())
		switch {
		case req.Valid.AtimeNow():
			attr.Atime = now
		case req.Valid.Atime():
			attr.Atime = uint32(req.Atime.Unix())
		}
		switch {
		case req.Valid.MtimeNow():
			attr.Mtime = now
		case req.Valid.Mtime():
			attr.Mtime = uint32(req.Mtime.Unix())
		}
	}

	if attr.Flags != 0 {
		if err := n.d.Setattr(ctx, n.rel, &attr); err != nil {
			return toErrno(err)
		}
	}
	fresh, err := n.d.Getattr(ctx, n.rel)
	if err != nil {
		return toErrno(err)
	}
	n.fill(&resp.Attr, fresh)
	return nil
}

// pflagsFor translates kernel open flags into protocol open flags.
func pflagsFor(f fuse.OpenFlags) uint32 {
	var p uint32
	switch f & fuse.OpenAccessModeMask {
	case fuse.OpenReadOnly:
		p = sftp.OpenRead
	case fuse.OpenWriteOnly:
		p = sftp.OpenWrite
	case fuse.OpenReadWrite:
		p = sftp.OpenRead | sftp.OpenWrite
	}
	if f&fuse.OpenAppend != 0 {
		p |= sftp.OpenAppend
	}
	if f&fuse.OpenCreate != 0 {
		p |= sftp.OpenCreate
	}
	if f&fuse.OpenExclusive != 0 {
		p |= sftp.OpenExcl
	}
	if f&fuse.OpenTruncate != 0 {
		p |= sftp.OpenTrunc
	}
	return p
}

func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if req.Dir {
		// Directories are listed through ReadDirAll on the node itself.
		return n, nil
	}
	h, err := n.d.Open(ctx, n.rel, pflagsFor(req.Flags), 0)
	if err != nil {
		return nil, toErrno(err)
	}
	return &FileHandle{h: h}, nil
}

func (n *Node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	child := &Node{d: n.d, rel: path.Join(n.rel, req.Name)}
	pflags := pflagsFor(req.Flags) | sftp.OpenCreate
	h, err := n.d.Open(ctx, child.rel, pflags, req.Mode)
	if err != nil {
		return nil, nil, toErrno(err)
	}
	return child, &FileHandle{h: h}, nil
}

func (n *Node) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	if err := n.d.FsyncPath(ctx, n.rel); err != nil {
		return toErrno(err)
	}
	return nil
}

// FileHandle adapts one open Handle to the kernel's read/write calls.
type FileHandle struct {
	h *Handle
}

func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := fh.h.Read(ctx, uint64(req.Offset), uint32(req.Size))
	if err != nil {
		return toErrno(err)
	}
	resp.Data = data
	return nil
}

func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	nw, err := fh.h.Write(ctx, uint64(req.Offset), req.Data)
	if err != nil {
		return toErrno(err)
	}
	resp.Size = nw
	return nil
}

func (fh *FileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	if err := fh.h.Flush(ctx); err != nil {
		return toErrno(err)
	}
	return nil
}

func (fh *FileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	if err := fh.h.Release(ctx); err != nil {
		return toErrno(err)
	}
	return nil
}
