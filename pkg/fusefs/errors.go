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
	"errors"
	"syscall"

	"bazil.org/fuse"

	"github.com/andy0130tw/sshfs/pkg/sftp"
)

// toErrno maps any error out of the dispatcher onto the fixed errno
// taxonomy the kernel bridge expects. Raw protocol internals never reach the
// filesystem caller: everything unrecognized collapses to EIO.
func toErrno(err error) fuse.Errno {
	if err == nil {
		return 0
	}

	var se *sftp.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case sftp.StatusNoSuchFile, sftp.StatusNoSuchPath:
			return fuse.Errno(syscall.ENOENT)
		case sftp.StatusPermissionDenied, sftp.StatusWriteProtect:
			return fuse.Errno(syscall.EACCES)
		case sftp.StatusFileAlreadyExists:
			return fuse.Errno(syscall.EEXIST)
		case sftp.StatusDirNotEmpty:
			return fuse.Errno(syscall.ENOTEMPTY)
		case sftp.StatusNotADirectory:
			return fuse.Errno(syscall.ENOTDIR)
		case sftp.StatusOpUnsupported:
			return fuse.Errno(syscall.ENOTSUP)
		case sftp.StatusNoSpace:
			return fuse.Errno(syscall.ENOSPC)
		case sftp.StatusQuotaExceeded:
			return fuse.Errno(syscall.EDQUOT)
		default:
			return fuse.Errno(syscall.EIO)
		}
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fuse.Errno(syscall.EINTR)
	default:
		// ErrConnectionLost, ProtocolError, ErrRequestTimeout, and anything
		// else protocol-shaped.
		return fuse.Errno(syscall.EIO)
	}
}
