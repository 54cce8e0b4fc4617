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

import (
	"context"
	"io"

	"github.com/andy0130tw/sshfs/pkg/metrics"
)

// Handle is the opaque token a server issues for an open file or directory.
// It is only meaningful within the session that produced it.
type Handle []byte

// NameEntry is one directory entry from a readdir page.
type NameEntry struct {
	Name string
	Attr Attr
}

// StatVFS mirrors the statvfs extended reply.
type StatVFS struct {
	BlockSize     uint64
	FragmentSize  uint64
	Blocks        uint64
	BlocksFree    uint64
	BlocksAvail   uint64
	Files         uint64
	FilesFree     uint64
	FilesAvail    uint64
	FilesystemID  uint64
	MountFlags    uint64
	MaxNameLength uint64
}

// statusToError decodes a status payload. StatusOK maps to nil; everything
// else becomes a StatusError.
func statusToError(payload []byte) error {
	u := NewUnmarshaler(payload)
	code := u.Uint32()
	message := u.String()
	if err := u.Err(); err != nil && code == 0 {
		return protocolErr(OpStatus, "truncated status", err)
	}
	if code == StatusOK {
		return nil
	}
	return &StatusError{Code: code, Message: message}
}

// expectStatus runs a request whose only success reply is status ok.
func (c *Client) expectStatus(ctx context.Context, op uint8, payload []byte) error {
	rop, rpayload, err := c.Call(ctx, op, payload)
	if err != nil {
		return err
	}
	if rop != OpStatus {
		return protocolErr(rop, "expected status reply", nil)
	}
	return statusToError(rpayload)
}

// expectAttrs runs a request answered by an attrs packet.
func (c *Client) expectAttrs(ctx context.Context, op uint8, payload []byte) (Attr, error) {
	rop, rpayload, err := c.Call(ctx, op, payload)
	if err != nil {
		return Attr{}, err
	}
	switch rop {
	case OpAttrs:
		u := NewUnmarshaler(rpayload)
		var attr Attr
		attr.Unmarshal(u)
		if err := u.Err(); err != nil {
			return Attr{}, protocolErr(rop, "truncated attrs", err)
		}
		return attr, nil
	case OpStatus:
		return Attr{}, statusToError(rpayload)
	default:
		return Attr{}, protocolErr(rop, "expected attrs reply", nil)
	}
}

func marshalPath(path string) []byte {
	m := NewMarshaler(4 + len(path))
	m.String(path)
	return m.Payload()
}

// Lstat fetches attributes without following a final symlink.
func (c *Client) Lstat(ctx context.Context, path string) (Attr, error) {
	return c.expectAttrs(ctx, OpLstat, marshalPath(path))
}

// Stat fetches attributes, following symlinks.
func (c *Client) Stat(ctx context.Context, path string) (Attr, error) {
	return c.expectAttrs(ctx, OpStat, marshalPath(path))
}

// Fstat fetches attributes of an open handle.
func (c *Client) Fstat(ctx context.Context, h Handle) (Attr, error) {
	m := NewMarshaler(4 + len(h))
	m.Bytes(h)
	return c.expectAttrs(ctx, OpFstat, m.Payload())
}

// Setstat applies attributes to a path.
func (c *Client) Setstat(ctx context.Context, path string, attr *Attr) error {
	m := NewMarshaler(4 + len(path) + 40)
	m.String(path)
	attr.Marshal(m)
	return c.expectStatus(ctx, OpSetstat, m.Payload())
}

// Fsetstat applies attributes to an open handle.
func (c *Client) Fsetstat(ctx context.Context, h Handle, attr *Attr) error {
	m := NewMarshaler(4 + len(h) + 40)
	m.Bytes(h)
	attr.Marshal(m)
	return c.expectStatus(ctx, OpFsetstat, m.Payload())
}

// Open opens or creates a remote file, returning its handle.
func (c *Client) Open(ctx context.Context, path string, pflags uint32, attr *Attr) (Handle, error) {
	m := NewMarshaler(16 + len(path))
	m.String(path)
	m.Uint32(pflags)
	if attr != nil {
		attr.Marshal(m)
	} else {
		m.Uint32(0)
	}
	return c.expectHandle(ctx, OpOpen, m.Payload())
}

// Opendir opens a remote directory for listing.
func (c *Client) Opendir(ctx context.Context, path string) (Handle, error) {
	return c.expectHandle(ctx, OpOpendir, marshalPath(path))
}

func (c *Client) expectHandle(ctx context.Context, op uint8, payload []byte) (Handle, error) {
	rop, rpayload, err := c.Call(ctx, op, payload)
	if err != nil {
		return nil, err
	}
	switch rop {
	case OpHandle:
		u := NewUnmarshaler(rpayload)
		h := u.Bytes()
		if err := u.Err(); err != nil {
			return nil, protocolErr(rop, "truncated handle", err)
		}
		out := make(Handle, len(h))
		copy(out, h)
		return out, nil
	case OpStatus:
		return nil, statusToError(rpayload)
	default:
		return nil, protocolErr(rop, "expected handle reply", nil)
	}
}

// CloseHandle releases a remote handle.
func (c *Client) CloseHandle(ctx context.Context, h Handle) error {
	m := NewMarshaler(4 + len(h))
	m.Bytes(h)
	return c.expectStatus(ctx, OpClose, m.Payload())
}

// Read requests up to length bytes from offset. io.EOF is returned (possibly
// with no data) once the offset is at or past the end of the file.
func (c *Client) Read(ctx context.Context, h Handle, offset uint64, length uint32) ([]byte, error) {
	m := NewMarshaler(16 + len(h))
	m.Bytes(h)
	m.Uint64(offset)
	m.Uint32(length)
	rop, rpayload, err := c.Call(ctx, OpRead, m.Payload())
	if err != nil {
		return nil, err
	}
	switch rop {
	case OpData:
		u := NewUnmarshaler(rpayload)
		data := u.Bytes()
		if err := u.Err(); err != nil {
			return nil, protocolErr(rop, "truncated data", err)
		}
		metrics.BytesRead.Add(float64(len(data)))
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case OpStatus:
		if err := statusToError(rpayload); err != nil {
			if IsStatus(err, StatusEOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		return nil, protocolErr(rop, "ok status for read", nil)
	default:
		return nil, protocolErr(rop, "expected data reply", nil)
	}
}

// Write sends data at offset and waits for the acknowledgement.
func (c *Client) Write(ctx context.Context, h Handle, offset uint64, data []byte) error {
	m := NewMarshaler(16 + len(h) + len(data))
	m.Bytes(h)
	m.Uint64(offset)
	m.Bytes(data)
	if err := c.expectStatus(ctx, OpWrite, m.Payload()); err != nil {
		return err
	}
	metrics.BytesWritten.Add(float64(len(data)))
	return nil
}

// ReadDir fetches the next page of entries from an open directory handle.
// io.EOF signals an exhausted listing.
func (c *Client) ReadDir(ctx context.Context, h Handle) ([]NameEntry, error) {
	m := NewMarshaler(4 + len(h))
	m.Bytes(h)
	rop, rpayload, err := c.Call(ctx, OpReaddir, m.Payload())
	if err != nil {
		return nil, err
	}
	switch rop {
	case OpName:
		u := NewUnmarshaler(rpayload)
		count := u.Uint32()
		entries := make([]NameEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			var e NameEntry
			e.Name = u.String()
			e.Attr.Unmarshal(u)
			if u.Err() != nil {
				break
			}
			entries = append(entries, e)
		}
		if err := u.Err(); err != nil {
			return nil, protocolErr(rop, "truncated name reply", err)
		}
		return entries, nil
	case OpStatus:
		if err := statusToError(rpayload); err != nil {
			if IsStatus(err, StatusEOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		return nil, protocolErr(rop, "ok status for readdir", nil)
	default:
		return nil, protocolErr(rop, "expected name reply", nil)
	}
}

// Remove deletes a remote file.
func (c *Client) Remove(ctx context.Context, path string) error {
	return c.expectStatus(ctx, OpRemove, marshalPath(path))
}

// Mkdir creates a remote directory.
func (c *Client) Mkdir(ctx context.Context, path string, attr *Attr) error {
	m := NewMarshaler(8 + len(path) + 40)
	m.String(path)
	if attr != nil {
		attr.Marshal(m)
	} else {
		m.Uint32(0)
	}
	return c.expectStatus(ctx, OpMkdir, m.Payload())
}

// Rmdir removes a remote directory.
func (c *Client) Rmdir(ctx context.Context, path string) error {
	return c.expectStatus(ctx, OpRmdir, marshalPath(path))
}

// Rename atomically moves oldPath to newPath.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	m := NewMarshaler(8 + len(oldPath) + len(newPath))
	m.String(oldPath)
	m.String(newPath)
	return c.expectStatus(ctx, OpRename, m.Payload())
}

// Symlink creates linkPath pointing at target.
func (c *Client) Symlink(ctx context.Context, target, linkPath string) error {
	m := NewMarshaler(8 + len(target) + len(linkPath))
	m.String(target)
	m.String(linkPath)
	return c.expectStatus(ctx, OpSymlink, m.Payload())
}

// Readlink resolves the target of a symbolic link.
func (c *Client) Readlink(ctx context.Context, path string) (string, error) {
	rop, rpayload, err := c.Call(ctx, OpReadlink, marshalPath(path))
	if err != nil {
		return "", err
	}
	switch rop {
	case OpName:
		u := NewUnmarshaler(rpayload)
		count := u.Uint32()
		target := u.String()
		if err := u.Err(); err != nil || count < 1 {
			return "", protocolErr(rop, "malformed readlink reply", err)
		}
		return target, nil
	case OpStatus:
		if err := statusToError(rpayload); err != nil {
			return "", err
		}
		return "", protocolErr(rop, "ok status for readlink", nil)
	default:
		return "", protocolErr(rop, "expected name reply", nil)
	}
}

// Realpath canonicalizes a path server-side.
func (c *Client) Realpath(ctx context.Context, path string) (string, error) {
	rop, rpayload, err := c.Call(ctx, OpRealpath, marshalPath(path))
	if err != nil {
		return "", err
	}
	switch rop {
	case OpName:
		u := NewUnmarshaler(rpayload)
		count := u.Uint32()
		resolved := u.String()
		if err := u.Err(); err != nil || count < 1 {
			return "", protocolErr(rop, "malformed realpath reply", err)
		}
		return resolved, nil
	case OpStatus:
		if err := statusToError(rpayload); err != nil {
			return "", err
		}
		return "", protocolErr(rop, "ok status for realpath", nil)
	default:
		return "", protocolErr(rop, "expected name reply", nil)
	}
}

// StatVFS issues the statvfs extended request for filesystem-wide stats.
// Callers should check HasExtension(ExtStatVFS) first; servers without it
// answer with an unsupported status.
func (c *Client) StatVFS(ctx context.Context, path string) (*StatVFS, error) {
	m := NewMarshaler(8 + len(ExtStatVFS) + len(path))
	m.String(ExtStatVFS)
	m.String(path)
	rop, rpayload, err := c.Call(ctx, OpExtended, m.Payload())
	if err != nil {
		return nil, err
	}
	switch rop {
	case OpExtendedReply:
		u := NewUnmarshaler(rpayload)
		s := &StatVFS{
			BlockSize:     u.Uint64(),
			FragmentSize:  u.Uint64(),
			Blocks:        u.Uint64(),
			BlocksFree:    u.Uint64(),
			BlocksAvail:   u.Uint64(),
			Files:         u.Uint64(),
			FilesFree:     u.Uint64(),
			FilesAvail:    u.Uint64(),
			FilesystemID:  u.Uint64(),
			MountFlags:    u.Uint64(),
			MaxNameLength: u.Uint64(),
		}
		if err := u.Err(); err != nil {
			return nil, protocolErr(rop, "truncated statvfs reply", err)
		}
		return s, nil
	case OpStatus:
		if err := statusToError(rpayload); err != nil {
			return nil, err
		}
		return nil, protocolErr(rop, "ok status for statvfs", nil)
	default:
		return nil, protocolErr(rop, "expected extended reply", nil)
	}
}
