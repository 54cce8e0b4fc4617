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

// Package transport carries length-delimited protocol frames over a reliable,
// ordered byte stream. The stream itself — typically the stdin/stdout pair of
// a remote sftp subsystem — is acquired elsewhere; this package only frames
// and unframes opaque payloads on top of it.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds the payload length accepted from the peer. The largest
// legitimate frame is a data reply of one full write chunk plus protocol
// overhead; anything bigger indicates a corrupt or hostile stream.
const MaxFrameSize = 1<<20 + 1024

// ErrClosed is returned by operations on a channel that has been closed
// locally.
var ErrClosed = errors.New("transport: channel closed")

// Channel is one bidirectional, ordered frame stream to the remote endpoint.
//
// WriteFrame and ReadFrame may be used concurrently with each other, but each
// must not be called concurrently with itself. ReadFrame returns io.EOF on a
// clean remote shutdown and a non-nil error on any other failure; either way
// the channel is unusable afterwards.
type Channel interface {
	WriteFrame(payload []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

// Stream is a Channel over an arbitrary reader/writer pair. Frames are a
// big-endian uint32 payload length followed by the payload bytes.
type Stream struct {
	r *bufio.Reader
	w io.Writer

	wmu sync.Mutex // serializes writes; a frame must hit the wire contiguously

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
}

// NewStream wraps r and w in a frame stream. Any closers given are closed,
// in order, when the stream is closed.
func NewStream(r io.Reader, w io.Writer, closers ...io.Closer) *Stream {
	return &Stream{
		r:       bufio.NewReaderSize(r, 64*1024),
		w:       w,
		closers: closers,
	}
}

func (s *Stream) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds limit", len(payload))
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	// One buffer, one Write call: interleaving header and payload writes from
	// concurrent frames would corrupt the stream.
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

func (s *Stream) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("transport: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("transport: peer announced %d byte frame, limit is %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(s.r, payload); err != nil {
		return nil, fmt.Errorf("transport: read frame payload: %w", err)
	}
	return payload, nil
}

// Close closes the underlying stream. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.mu.Unlock()

	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
