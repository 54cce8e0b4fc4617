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
	"encoding/binary"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Attribute validity flags. On the wire only the fields whose flag is set
// are encoded.
const (
	AttrFlagSize       = 0x01
	AttrFlagUIDGID     = 0x02
	AttrFlagPerms      = 0x04
	AttrFlagACModTime  = 0x08
	attrFlagsSupported = AttrFlagSize | AttrFlagUIDGID | AttrFlagPerms | AttrFlagACModTime
)

// AttrBlobSize is the size of the fixed full encoding produced by
// Attr.MarshalBlob. The persisted cache image embeds this constant in its
// header; a build with a different value must reject the image.
const AttrBlobSize = 32

// Attr is the attribute set carried by attrs replies and setstat requests.
// Perm holds the full POSIX mode word including the file-type bits.
type Attr struct {
	Flags uint32
	Size  uint64
	UID   uint32
	GID   uint32
	Perm  uint32
	Atime uint32
	Mtime uint32
}

// Marshal appends the flag-gated wire encoding.
func (a *Attr) Marshal(m *Marshaler) {
	m.Uint32(a.Flags)
	if a.Flags&AttrFlagSize != 0 {
		m.Uint64(a.Size)
	}
	if a.Flags&AttrFlagUIDGID != 0 {
		m.Uint32(a.UID)
		m.Uint32(a.GID)
	}
	if a.Flags&AttrFlagPerms != 0 {
		m.Uint32(a.Perm)
	}
	if a.Flags&AttrFlagACModTime != 0 {
		m.Uint32(a.Atime)
		m.Uint32(a.Mtime)
	}
}

// Unmarshal decodes the flag-gated wire encoding.
func (a *Attr) Unmarshal(u *Unmarshaler) {
	a.Flags = u.Uint32()
	if a.Flags&AttrFlagSize != 0 {
		a.Size = u.Uint64()
	}
	if a.Flags&AttrFlagUIDGID != 0 {
		a.UID = u.Uint32()
		a.GID = u.Uint32()
	}
	if a.Flags&AttrFlagPerms != 0 {
		a.Perm = u.Uint32()
	}
	if a.Flags&AttrFlagACModTime != 0 {
		a.Atime = u.Uint32()
		a.Mtime = u.Uint32()
	}
}

// MarshalBlob returns the fixed-size full encoding used by the directory
// cache: every field is present regardless of flags.
func (a *Attr) MarshalBlob() [AttrBlobSize]byte {
	var b [AttrBlobSize]byte
	binary.BigEndian.PutUint32(b[0:], a.Flags)
	binary.BigEndian.PutUint64(b[4:], a.Size)
	binary.BigEndian.PutUint32(b[12:], a.UID)
	binary.BigEndian.PutUint32(b[16:], a.GID)
	binary.BigEndian.PutUint32(b[20:], a.Perm)
	binary.BigEndian.PutUint32(b[24:], a.Atime)
	binary.BigEndian.PutUint32(b[28:], a.Mtime)
	return b
}

// UnmarshalBlob decodes a fixed-size blob produced by MarshalBlob.
func (a *Attr) UnmarshalBlob(b [AttrBlobSize]byte) {
	a.Flags = binary.BigEndian.Uint32(b[0:])
	a.Size = binary.BigEndian.Uint64(b[4:])
	a.UID = binary.BigEndian.Uint32(b[12:])
	a.GID = binary.BigEndian.Uint32(b[16:])
	a.Perm = binary.BigEndian.Uint32(b[20:])
	a.Atime = binary.BigEndian.Uint32(b[24:])
	a.Mtime = binary.BigEndian.Uint32(b[28:])
}

// FileMode translates the POSIX mode word into an os.FileMode.
func (a *Attr) FileMode() os.FileMode {
	mode := os.FileMode(a.Perm & 0777)
	switch a.Perm & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	}
	if a.Perm&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if a.Perm&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if a.Perm&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// SetFileMode fills Perm from an os.FileMode and marks it valid.
func (a *Attr) SetFileMode(mode os.FileMode) {
	perm := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		perm |= unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		perm |= unix.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		perm |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		perm |= unix.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		perm |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		perm |= unix.S_IFBLK
	default:
		perm |= unix.S_IFREG
	}
	if mode&os.ModeSetuid != 0 {
		perm |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		perm |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		perm |= unix.S_ISVTX
	}
	a.Perm = perm
	a.Flags |= AttrFlagPerms
}

// ModTime returns Mtime as a time.Time.
func (a *Attr) ModTime() time.Time { return time.Unix(int64(a.Mtime), 0) }

// AccessTime returns Atime as a time.Time.
func (a *Attr) AccessTime() time.Time { return time.Unix(int64(a.Atime), 0) }

// IsDir reports whether the attributes describe a directory.
func (a *Attr) IsDir() bool { return a.Perm&unix.S_IFMT == unix.S_IFDIR }
