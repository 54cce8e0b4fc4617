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
	"errors"
	"fmt"
)

// ErrConnectionLost is reported by every request pending when the transport
// fails, and by every call issued after the session has terminated.
var ErrConnectionLost = errors.New("sftp: connection lost")

// errShortPacket is recorded by Unmarshaler on a truncated payload.
var errShortPacket = errors.New("sftp: short packet")

// StatusError is a server-reported failure: the terminal status reply of an
// operation, carrying one of the Status* codes.
type StatusError struct {
	Code    uint32
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("sftp: remote status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sftp: remote status %d", e.Code)
}

// ProtocolError is a malformed or unexpected reply. It fails only the
// request it was delivered to; the session survives.
type ProtocolError struct {
	Op     uint8
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sftp: protocol error in %s reply: %s: %v", opName(e.Op), e.Reason, e.Err)
	}
	return fmt.Sprintf("sftp: protocol error in %s reply: %s", opName(e.Op), e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(op uint8, reason string, err error) error {
	return &ProtocolError{Op: op, Reason: reason, Err: err}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code uint32) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
