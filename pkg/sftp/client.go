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
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andy0130tw/sshfs/pkg/metrics"
	"github.com/andy0130tw/sshfs/pkg/transport"
)

// ErrRequestTimeout is returned for a request whose deadline elapsed with no
// reply. The request is forgotten; a reply arriving later is dropped like any
// other unmatched frame.
var ErrRequestTimeout = errors.New("sftp: request timed out")

// Config tunes a Client. The zero value is usable.
type Config struct {
	// Logger receives protocol-level diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// RequestTimeout, when non-zero, bounds the wait for each reply. The wire
	// protocol has no timeout of its own; this is purely local policy.
	RequestTimeout time.Duration
	// MaxInflight bounds concurrently pending requests. Keeping this far
	// below 2^32 means correlation ids never collide before wrapping.
	// Defaults to 64.
	MaxInflight int
}

// reply is what the demux loop hands back to a waiting call.
type reply struct {
	op      uint8
	payload []byte
	err     error
}

// pendingReq is one outstanding request. Its channel is buffered so the
// demux loop never blocks on a caller.
type pendingReq struct {
	id uint32
	op uint8
	ch chan reply
}

// Client is the protocol engine: it frames requests onto the transport
// channel, assigns correlation ids, and routes each incoming reply to
// exactly the request that issued it.
type Client struct {
	ch  transport.Channel
	log *zap.Logger

	timeout  time.Duration
	inflight chan struct{}

	mu            sync.Mutex
	nextID        uint32
	pending       map[uint32]*pendingReq
	dead          bool
	deadErr       error
	readerRunning bool

	readerDone chan struct{}

	// Populated by Negotiate.
	serverVersion uint32
	extensions    map[string]string
	maxRead       uint32
	maxWrite      uint32
	maxPacket     uint32
}

// NewClient wraps an established transport channel. Negotiate must be called
// before any other operation.
func NewClient(ch transport.Channel, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 64
	}
	return &Client{
		ch:         ch,
		log:        logger.Named("sftp"),
		timeout:    cfg.RequestTimeout,
		inflight:   make(chan struct{}, maxInflight),
		pending:    make(map[uint32]*pendingReq),
		extensions: make(map[string]string),
		maxRead:    DefaultMaxReadSize,
		maxWrite:   DefaultMaxWriteSize,
		maxPacket:  DefaultMaxPacket,
		readerDone: make(chan struct{}),
	}
}

// Negotiate performs the one-time version handshake and records the server's
// advertised extensions and transfer limits. It must complete before the
// first Call; the demux loop starts only after the handshake, so the version
// reply is read synchronously here.
func (c *Client) Negotiate(ctx context.Context) error {
	m := NewMarshaler(8)
	m.Byte(OpInit)
	m.Uint32(ProtocolVersion)
	if err := c.ch.WriteFrame(m.Payload()); err != nil {
		c.terminate(fmt.Errorf("sftp: send init: %w", err))
		return ErrConnectionLost
	}

	frame, err := c.ch.ReadFrame()
	if err != nil {
		c.terminate(fmt.Errorf("sftp: read version: %w", err))
		return ErrConnectionLost
	}

	u := NewUnmarshaler(frame)
	if op := u.Byte(); op != OpVersion {
		err := protocolErr(op, "expected version reply", nil)
		c.terminate(err)
		return err
	}
	version := u.Uint32()
	if version != ProtocolVersion {
		err := fmt.Errorf("sftp: server speaks version %d, need %d", version, ProtocolVersion)
		c.terminate(err)
		return err
	}

	// Extension pairs follow the version field.
	for {
		name := u.String()
		data := u.String()
		if u.Err() != nil {
			break
		}
		c.extensions[name] = data
	}
	c.serverVersion = version

	c.mu.Lock()
	c.readerRunning = true
	c.mu.Unlock()
	go c.readLoop()

	if _, ok := c.extensions[ExtLimits]; ok {
		if err := c.queryLimits(ctx); err != nil {
			// Limits are an optimization; fall back to the defaults unless
			// the session itself died.
			if errors.Is(err, ErrConnectionLost) {
				return err
			}
			c.log.Warn("limits query failed, using defaults", zap.Error(err))
		}
	}

	c.log.Info("session negotiated",
		zap.Uint32("version", version),
		zap.Int("extensions", len(c.extensions)),
		zap.Uint32("max_read", c.maxRead),
		zap.Uint32("max_write", c.maxWrite))
	return nil
}

// queryLimits issues the limits extended request and records the results.
func (c *Client) queryLimits(ctx context.Context) error {
	m := NewMarshaler(32)
	m.String(ExtLimits)
	op, payload, err := c.Call(ctx, OpExtended, m.Payload())
	if err != nil {
		return err
	}
	if op != OpExtendedReply {
		return protocolErr(op, "expected extended reply", nil)
	}
	u := NewUnmarshaler(payload)
	maxPacket := u.Uint64()
	maxRead := u.Uint64()
	maxWrite := u.Uint64()
	if u.Err() != nil {
		return protocolErr(op, "truncated limits reply", u.Err())
	}
	if maxPacket > 0 {
		c.maxPacket = clampUint32(maxPacket)
	}
	if maxRead > 0 {
		c.maxRead = clampUint32(maxRead)
	}
	if maxWrite > 0 {
		c.maxWrite = clampUint32(maxWrite)
	}
	return nil
}

func clampUint32(v uint64) uint32 {
	const max = 1 << 20 // stay within the transport frame bound
	if v > max {
		return max
	}
	return uint32(v)
}

// ServerVersion returns the negotiated protocol version.
func (c *Client) ServerVersion() uint32 { return c.serverVersion }

// HasExtension reports whether the server advertised the named extension.
func (c *Client) HasExtension(name string) bool {
	_, ok := c.extensions[name]
	return ok
}

// MaxReadSize is the largest read chunk the server accepts.
func (c *Client) MaxReadSize() uint32 { return c.maxRead }

// MaxWriteSize is the largest write chunk the server accepts.
func (c *Client) MaxWriteSize() uint32 { return c.maxWrite }

// Call submits one request and suspends until its reply, the context, or the
// session's end. It returns the reply packet type and payload (with the
// correlation id already stripped).
func (c *Client) Call(ctx context.Context, op uint8, payload []byte) (uint8, []byte, error) {
	select {
	case c.inflight <- struct{}{}:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
	defer func() { <-c.inflight }()

	req, err := c.register(op)
	if err != nil {
		return 0, nil, err
	}

	metrics.RequestsTotal.WithLabelValues(opName(op)).Inc()
	metrics.InflightRequests.Inc()
	defer metrics.InflightRequests.Dec()

	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, op)
	frame = append(frame, byte(req.id>>24), byte(req.id>>16), byte(req.id>>8), byte(req.id))
	frame = append(frame, payload...)

	if err := c.ch.WriteFrame(frame); err != nil {
		// A write failure breaks the stream for everyone, not just this call.
		c.terminate(fmt.Errorf("sftp: send %s: %w", opName(op), err))
		c.forget(req)
		metrics.RequestErrorsTotal.WithLabelValues(opName(op)).Inc()
		return 0, nil, ErrConnectionLost
	}

	var timeoutCh <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-req.ch:
		if r.err != nil {
			metrics.RequestErrorsTotal.WithLabelValues(opName(op)).Inc()
			return 0, nil, r.err
		}
		return r.op, r.payload, nil
	case <-ctx.Done():
		c.forget(req)
		metrics.RequestErrorsTotal.WithLabelValues(opName(op)).Inc()
		return 0, nil, ctx.Err()
	case <-timeoutCh:
		c.forget(req)
		c.log.Warn("request timed out",
			zap.String("op", opName(op)), zap.Uint32("id", req.id))
		metrics.RequestErrorsTotal.WithLabelValues(opName(op)).Inc()
		return 0, nil, ErrRequestTimeout
	}
}

// register allocates a correlation id and a pending-table slot. Ids advance
// monotonically; MaxInflight keeps the live window far smaller than the id
// space, so an id is never reused while still pending.
func (c *Client) register(op uint8) (*pendingReq, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return nil, ErrConnectionLost
	}
	c.nextID++
	req := &pendingReq{id: c.nextID, op: op, ch: make(chan reply, 1)}
	c.pending[req.id] = req
	return req, nil
}

// forget abandons a request the caller no longer waits for. If the reply
// raced in first, it drains the buffered channel so the result slot is
// consumed exactly once.
func (c *Client) forget(req *pendingReq) {
	c.mu.Lock()
	_, wasPending := c.pending[req.id]
	delete(c.pending, req.id)
	c.mu.Unlock()
	if !wasPending {
		select {
		case <-req.ch:
		default:
		}
	}
}

// readLoop demultiplexes incoming frames until the transport fails or is
// closed.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		frame, err := c.ch.ReadFrame()
		if err != nil {
			if err == io.EOF || errors.Is(err, transport.ErrClosed) {
				c.terminate(ErrConnectionLost)
			} else {
				c.terminate(fmt.Errorf("sftp: transport: %w", err))
			}
			return
		}
		c.dispatch(frame)
	}
}

// dispatch routes one frame to its pending request. Frames that cannot be
// correlated — too short to carry an id, or carrying an id with no pending
// request — are dropped with a protocol-error log; failing some arbitrary
// request for them would punish the wrong caller.
func (c *Client) dispatch(frame []byte) {
	if len(frame) < 5 {
		c.log.Error("dropping unparseable frame", zap.Int("len", len(frame)))
		return
	}
	op := frame[0]
	id := uint32(frame[1])<<24 | uint32(frame[2])<<16 | uint32(frame[3])<<8 | uint32(frame[4])

	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Error("dropping reply with no pending request",
			zap.String("op", opName(op)), zap.Uint32("id", id))
		return
	}
	req.ch <- reply{op: op, payload: frame[5:]}
}

// terminate fails every pending request and marks the session dead. Safe to
// call more than once; only the first error sticks.
func (c *Client) terminate(err error) {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	c.deadErr = err
	pending := c.pending
	c.pending = make(map[uint32]*pendingReq)
	c.mu.Unlock()

	if len(pending) > 0 {
		c.log.Warn("session terminated with pending requests",
			zap.Int("pending", len(pending)), zap.Error(err))
	}
	for _, req := range pending {
		req.ch <- reply{err: ErrConnectionLost}
	}
}

// Close drains the session: every pending request fails with a connection
// error, the transport is torn down, and the demux loop is waited out. After
// Close no call can be left suspended.
func (c *Client) Close() error {
	c.terminate(ErrConnectionLost)
	err := c.ch.Close()
	c.mu.Lock()
	running := c.readerRunning
	c.mu.Unlock()
	if running {
		<-c.readerDone
	}
	return err
}
