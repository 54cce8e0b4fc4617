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

// Package doc holds the documentation pseudo-commands reachable through
// 'sshfs help <topic>'.
package doc

import "github.com/andy0130tw/sshfs/pkg/cli"

var ArchitectureCmd = &cli.Command{
	UsageLine: "architecture",
	Short:     "how a mount is put together",
	Long: `
A mount is four layers, each owned by one package.

The transport (pkg/transport) dials the SSH server, starts the sftp
subsystem, and carries length-prefixed frames over the session's stdio.
It knows nothing about the packets inside the frames.

The protocol engine (pkg/sftp) speaks version 6 of the SSH file transfer
protocol over that frame stream. Requests carry correlation ids; a single
demultiplexing loop routes each reply, however reordered, back to the
goroutine that issued its request. The engine negotiates the server's
advertised extensions and transfer limits once, at session start.

The dispatcher (pkg/fusefs) implements the filesystem operations. Lookups
go through the directory cache (pkg/dcache); mutations invalidate exactly
the cached state they made stale before the result is surfaced. Open
files get a handle with read-ahead and write-back buffering: large reads
are split into pipelined chunks and reassembled by offset, small
sequential writes coalesce into full-size chunks.

The top layer adapts the dispatcher to the kernel through bazil.org/fuse
and is deliberately thin: it translates requests and error codes and
nothing else.
`,
}
