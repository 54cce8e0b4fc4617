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
package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
)

func pipePair() (*Stream, *Stream) {
	c1, c2 := net.Pipe()
	return NewStream(c1, c1, c1), NewStream(c2, c2, c2)
}

func TestFrameRoundTrip(t *testing.T) {
	a, b := pipePair()
	defer a.Close()
	defer b.Close()

	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xaa}, 100000),
	}
	go func() {
		for _, p := range payloads {
			if err := a.WriteFrame(p); err != nil {
				return
			}
		}
	}()
	for i, want := range payloads {
		got, err := b.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %d bytes, want %d", i, len(got), len(want))
		}
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	a, b := pipePair()
	defer a.Close()
	defer b.Close()

	if err := a.WriteFrame(make([]byte, MaxFrameSize+1)); err == nil {
		t.Fatal("oversized frame should be rejected before hitting the wire")
	}
}

func TestReadFrameRejectsHugeHeader(t *testing.T) {
	c1, c2 := net.Pipe()
	s := NewStream(c1, c1, c1)
	defer s.Close()
	defer c2.Close()

	go func() {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
		c2.Write(hdr[:])
	}()
	if _, err := s.ReadFrame(); err == nil {
		t.Fatal("announced frame beyond the limit should be rejected")
	}
}

func TestReadFrameEOF(t *testing.T) {
	a, b := pipePair()
	defer b.Close()

	a.Close()
	if _, err := b.ReadFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF after peer close, got %v", err)
	}
}

func TestWriteAfterClose(t *testing.T) {
	a, _ := pipePair()
	a.Close()
	if err := a.WriteFrame([]byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// Close is idempotent.
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
