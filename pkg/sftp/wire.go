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
)

// Marshaler builds a packet payload. Scalars are big-endian; strings and
// byte blobs are uint32-length-prefixed.
type Marshaler struct {
	buf []byte
}

// NewMarshaler returns a Marshaler with room for sizeHint bytes.
func NewMarshaler(sizeHint int) *Marshaler {
	return &Marshaler{buf: make([]byte, 0, sizeHint)}
}

func (m *Marshaler) Byte(v uint8)    { m.buf = append(m.buf, v) }
func (m *Marshaler) Uint32(v uint32) { m.buf = binary.BigEndian.AppendUint32(m.buf, v) }
func (m *Marshaler) Uint64(v uint64) { m.buf = binary.BigEndian.AppendUint64(m.buf, v) }

func (m *Marshaler) String(s string) {
	m.Uint32(uint32(len(s)))
	m.buf = append(m.buf, s...)
}

func (m *Marshaler) Bytes(b []byte) {
	m.Uint32(uint32(len(b)))
	m.buf = append(m.buf, b...)
}

// Raw appends bytes without a length prefix.
func (m *Marshaler) Raw(b []byte) { m.buf = append(m.buf, b...) }

// Payload returns the accumulated bytes.
func (m *Marshaler) Payload() []byte { return m.buf }

// Unmarshaler decodes a packet payload. Every accessor records the first
// short read; callers check Err once at the end rather than after each field.
type Unmarshaler struct {
	buf []byte
	off int
	err error
}

func NewUnmarshaler(payload []byte) *Unmarshaler {
	return &Unmarshaler{buf: payload}
}

func (u *Unmarshaler) fail() {
	if u.err == nil {
		u.err = errShortPacket
	}
}

func (u *Unmarshaler) Byte() uint8 {
	if u.err != nil || u.off+1 > len(u.buf) {
		u.fail()
		return 0
	}
	v := u.buf[u.off]
	u.off++
	return v
}

func (u *Unmarshaler) Uint32() uint32 {
	if u.err != nil || u.off+4 > len(u.buf) {
		u.fail()
		return 0
	}
	v := binary.BigEndian.Uint32(u.buf[u.off:])
	u.off += 4
	return v
}

func (u *Unmarshaler) Uint64() uint64 {
	if u.err != nil || u.off+8 > len(u.buf) {
		u.fail()
		return 0
	}
	v := binary.BigEndian.Uint64(u.buf[u.off:])
	u.off += 8
	return v
}

func (u *Unmarshaler) Bytes() []byte {
	n := u.Uint32()
	if u.err != nil || u.off+int(n) > len(u.buf) {
		u.fail()
		return nil
	}
	v := u.buf[u.off : u.off+int(n)]
	u.off += int(n)
	return v
}

func (u *Unmarshaler) String() string { return string(u.Bytes()) }

// Rest returns all bytes not yet consumed.
func (u *Unmarshaler) Rest() []byte {
	if u.err != nil {
		return nil
	}
	v := u.buf[u.off:]
	u.off = len(u.buf)
	return v
}

// Err reports whether any accessor ran off the end of the payload.
func (u *Unmarshaler) Err() error { return u.err }
