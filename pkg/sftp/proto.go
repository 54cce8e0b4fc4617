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

// Package sftp implements the client side of the SSH file-transfer protocol:
// the wire codec and a request/response engine that multiplexes concurrent
// operations over one framed byte stream, matching out-of-order replies to
// their requests by correlation id.
package sftp

// ProtocolVersion is the single file-transfer protocol version this client
// negotiates. Servers answering with any other version are rejected.
const ProtocolVersion = 6

// Packet types. Every packet starts with one of these bytes; all except
// OpInit and OpVersion are followed by a uint32 correlation id.
const (
	OpInit          = 1
	OpVersion       = 2
	OpOpen          = 3
	OpClose         = 4
	OpRead          = 5
	OpWrite         = 6
	OpLstat         = 7
	OpFstat         = 8
	OpSetstat       = 9
	OpFsetstat      = 10
	OpOpendir       = 11
	OpReaddir       = 12
	OpRemove        = 13
	OpMkdir         = 14
	OpRmdir         = 15
	OpRealpath      = 16
	OpStat          = 17
	OpRename        = 18
	OpReadlink      = 19
	OpSymlink       = 20
	OpStatus        = 101
	OpHandle        = 102
	OpData          = 103
	OpName          = 104
	OpAttrs         = 105
	OpExtended      = 200
	OpExtendedReply = 201
)

// Status codes carried by OpStatus replies.
const (
	StatusOK                = 0
	StatusEOF               = 1
	StatusNoSuchFile        = 2
	StatusPermissionDenied  = 3
	StatusFailure           = 4
	StatusBadMessage        = 5
	StatusNoConnection      = 6
	StatusConnectionLost    = 7
	StatusOpUnsupported     = 8
	StatusInvalidHandle     = 9
	StatusNoSuchPath        = 10
	StatusFileAlreadyExists = 11
	StatusWriteProtect      = 12
	StatusNoSpace           = 14
	StatusQuotaExceeded     = 15
	StatusDirNotEmpty       = 18
	StatusNotADirectory     = 19
)

// Open pflags.
const (
	OpenRead   = 0x01
	OpenWrite  = 0x02
	OpenAppend = 0x04
	OpenCreate = 0x08
	OpenTrunc  = 0x10
	OpenExcl   = 0x20
)

// Extended request names understood by OpenSSH-compatible servers.
const (
	ExtStatVFS = "statvfs@openssh.com"
	ExtLimits  = "limits@openssh.com"
)

// Conservative fallbacks applied when the server does not advertise its
// limits. 32 KiB matches the floor every known server accepts.
const (
	DefaultMaxReadSize  = 32 * 1024
	DefaultMaxWriteSize = 32 * 1024
	DefaultMaxPacket    = 34000
)

var opNames = map[uint8]string{
	OpInit:          "init",
	OpVersion:       "version",
	OpOpen:          "open",
	OpClose:         "close",
	OpRead:          "read",
	OpWrite:         "write",
	OpLstat:         "lstat",
	OpFstat:         "fstat",
	OpSetstat:       "setstat",
	OpFsetstat:      "fsetstat",
	OpOpendir:       "opendir",
	OpReaddir:       "readdir",
	OpRemove:        "remove",
	OpMkdir:         "mkdir",
	OpRmdir:         "rmdir",
	OpRealpath:      "realpath",
	OpStat:          "stat",
	OpRename:        "rename",
	OpReadlink:      "readlink",
	OpSymlink:       "symlink",
	OpStatus:        "status",
	OpHandle:        "handle",
	OpData:          "data",
	OpName:          "name",
	OpAttrs:         "attrs",
	OpExtended:      "extended",
	OpExtendedReply: "extended-reply",
}

// opName returns a human-readable name for a packet type, for logs and
// metrics labels.
func opName(op uint8) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "unknown"
}
