// File: wsproto/connection.go
// Author: momentics <momentics@gmail.com>
//
// Connection owns one non-blocking stream socket, one inbound and one
// outbound ring buffer, and the protocol state that governs how bytes
// flowing across that socket are interpreted. It is driven exclusively by
// the reactor's single execution context: HandleRead, HandleWrite, Send,
// and Close are never called concurrently with each other for the same
// connection.

package wsproto

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/embeddedws/ewsgo/ringbuf"
	"github.com/embeddedws/ewsgo/wscrypto"
	"github.com/embeddedws/ewsgo/wsframe"
)

const (
	// DefaultRxCapacity is the inbound ring buffer's default size in bytes.
	DefaultRxCapacity = 4096
	// DefaultTxCapacity is the outbound ring buffer's default size in bytes.
	DefaultTxCapacity = 8192

	handshakeScratchSize = 1024
	handshakeResponseCap = 256
	frameScratchSize     = 4096
)

// Callbacks is the non-owning capability set a connection invokes inline
// on the reactor's single execution context. Every field is optional; a
// nil callback is simply skipped.
type Callbacks struct {
	OnOpen         func(c *Connection)
	OnMessage      func(c *Connection, payload []byte, binary bool)
	OnClose        func(c *Connection, clean bool)
	OnError        func(c *Connection, err error)
	OnBackpressure func(c *Connection)
	OnDrain        func(c *Connection)
}

// Connection is a monotonically numbered entity wrapping one socket and
// the protocol state machine that interprets bytes flowing across it.
type Connection struct {
	ID  uint64
	fd  int
	rx  *ringbuf.RingBuffer
	tx  *ringbuf.RingBuffer
	cb  Callbacks
	log func(format string, args ...any)

	state State

	created       time.Time
	enteredClose  time.Time
	lastActivity  time.Time
	handshakeDDL  time.Duration
	closeDDL      time.Duration
	lastErrorCode ErrorCode

	highWatermark int
	lowWatermark  int
	writePaused   bool

	useGatheredWrite bool

	// TraceID is an opaque per-connection correlation string for log
	// lines; it never affects protocol behavior.
	TraceID string

	// MessageLimiter, when non-nil, gates inbound Text/Binary frames;
	// a message that would exceed it is dropped and reported via
	// OnError instead of being delivered to OnMessage.
	MessageLimiter *rate.Limiter
}

// Config groups the per-connection knobs supplied by the reactor at
// accept time.
type Config struct {
	RxCapacity        int
	TxCapacity        int
	HandshakeDeadline time.Duration
	CloseDeadline     time.Duration
	HighWatermark     int // absolute byte count; 0 selects 75% of TxCapacity
	LowWatermark      int // absolute byte count; 0 selects 25% of TxCapacity
	UseGatheredWrite  bool
	Logger            func(format string, args ...any)
	MessageLimiter    *rate.Limiter
}

// New creates a Connection in the Handshaking state, owning fd.
func New(id uint64, fd int, cfg Config, cb Callbacks) *Connection {
	rxCap := cfg.RxCapacity
	if rxCap <= 0 {
		rxCap = DefaultRxCapacity
	}
	txCap := cfg.TxCapacity
	if txCap <= 0 {
		txCap = DefaultTxCapacity
	}
	high := cfg.HighWatermark
	if high <= 0 {
		high = txCap * 75 / 100
	}
	low := cfg.LowWatermark
	if low <= 0 {
		low = txCap * 25 / 100
	}
	handshakeDDL := cfg.HandshakeDeadline
	if handshakeDDL <= 0 {
		handshakeDDL = 5 * time.Second
	}
	closeDDL := cfg.CloseDeadline
	if closeDDL <= 0 {
		closeDDL = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(string, ...any) {}
	}

	now := time.Now()
	return &Connection{
		ID:               id,
		fd:               fd,
		rx:               ringbuf.New(rxCap),
		tx:               ringbuf.New(txCap),
		cb:               cb,
		log:              logger,
		state:            StateHandshaking,
		created:          now,
		lastActivity:     now,
		handshakeDDL:     handshakeDDL,
		closeDDL:         closeDDL,
		highWatermark:    high,
		lowWatermark:     low,
		useGatheredWrite: cfg.UseGatheredWrite,
		MessageLimiter:   cfg.MessageLimiter,
	}
}

// FD returns the underlying file descriptor.
func (c *Connection) FD() int { return c.fd }

// State reports the current protocol state.
func (c *Connection) State() State { return c.state }

// LastError reports the sticky last-error code, for observability.
func (c *Connection) LastError() ErrorCode { return c.lastErrorCode }

// HasDataToSend reports whether the outbound buffer holds bytes not yet
// written to the socket.
func (c *Connection) HasDataToSend() bool { return !c.tx.Empty() }

// IsClosed reports whether the connection has reached the terminal state.
func (c *Connection) IsClosed() bool { return c.state == StateClosed }

// CreatedAt, EnteredClosingAt report the timestamps the reactor's deadline
// sweep consults.
func (c *Connection) CreatedAt() time.Time      { return c.created }
func (c *Connection) EnteredClosingAt() time.Time { return c.enteredClose }

func (c *Connection) setError(code ErrorCode) error {
	c.lastErrorCode = code
	err := NewError(code, "")
	if c.cb.OnError != nil {
		c.cb.OnError(c, err)
	}
	return err
}

func (c *Connection) transitionTo(state State) {
	c.state = state
	switch state {
	case StateOpen:
		if c.cb.OnOpen != nil {
			c.cb.OnOpen(c)
		}
	case StateClosing:
		c.enteredClose = time.Now()
	case StateClosed:
		if c.cb.OnClose != nil {
			c.cb.OnClose(c, true)
		}
	}
}

func (c *Connection) closeSocket() {
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
		c.fd = -1
	}
}

// Send buffers payload for transmission; a no-op outside the Open state.
func (c *Connection) Send(payload []byte, binary bool) {
	if c.state != StateOpen {
		return
	}
	_ = dispatch[c.state].onSend(c, payload, binary)
}

// Close initiates a graceful close with the given RFC 6455 status code,
// dispatched through the per-state close-request handler. This is the
// application-facing request path: from Open it sends a close frame and
// waits in Closing for the peer's close frame or the close deadline.
// From Handshaking it closes the socket and moves straight to Closed.
// From Closing it does nothing, and from Closed the handler's
// connection-closed error is discarded, so Close alone cannot be used to
// force a stuck Closing connection down — use Terminate for that.
func (c *Connection) Close(code uint16) {
	_ = dispatch[c.state].onClose(c, code)
}

// Terminate immediately and unconditionally tears the connection down:
// it closes the socket and transitions straight to Closed regardless of
// the current state. The reactor calls this for socket errors,
// POLLERR/POLLHUP, and expired deadlines, where a Closing connection
// must still be forced out of s.conns rather than left waiting on a
// close-request handler that, by design, does nothing while already
// closing. Grounded on connection.cpp's close(), which forces this same
// transition for any non-Open state.
func (c *Connection) Terminate() {
	if c.state == StateClosed {
		return
	}
	c.closeSocket()
	c.transitionTo(StateClosed)
}

// HandleData runs the current state's data-received handler; HandleRead
// calls this immediately after committing the bytes it read.
func (c *Connection) HandleData() error {
	c.lastActivity = time.Now()
	return dispatch[c.state].onData(c)
}

// ---- handshake ----

func (c *Connection) parseHandshake() error {
	var scratch [handshakeScratchSize]byte
	n := c.rx.Peek(scratch[:])
	if n == 0 {
		return nil
	}
	data := string(scratch[:n])

	end := strings.Index(data, "\r\n\r\n")
	if end < 0 {
		return nil // more data needed
	}
	handshakeSize := end + 4

	if !strings.HasPrefix(data, "GET ") {
		return c.setError(ErrCodeHandshakeFailed)
	}

	key, ok := extractSecWebSocketKey(data)
	if !ok {
		return c.setError(ErrCodeHandshakeFailed)
	}

	c.rx.Advance(handshakeSize)

	acceptKey := wscrypto.AcceptKey(key)
	response := fmt.Sprintf(
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n\r\n", acceptKey)
	if len(response) >= handshakeResponseCap {
		return c.setError(ErrCodeHandshakeFailed)
	}

	if !c.tx.Push([]byte(response)) {
		return c.setError(ErrCodeBufferFull)
	}

	c.lastErrorCode = ErrCodeOK
	return nil
}

// extractSecWebSocketKey scans data for a Sec-WebSocket-Key header,
// matching either the canonical or all-lowercase spelling, and returns
// its trimmed value.
func extractSecWebSocketKey(data string) (string, bool) {
	const canonical = "Sec-WebSocket-Key: "
	const lower = "sec-websocket-key: "

	pos := strings.Index(data, canonical)
	headerLen := len(canonical)
	if pos < 0 {
		pos = strings.Index(data, lower)
		headerLen = len(lower)
	}
	if pos < 0 {
		return "", false
	}

	valueStart := pos + headerLen
	rest := data[valueStart:]
	end := strings.Index(rest, "\r\n")
	if end < 0 {
		return "", false
	}

	value := strings.TrimRight(rest[:end], " \t")
	if value == "" {
		return "", false
	}
	return value, true
}

// ---- frame parsing ----

func (c *Connection) parseFrames() error {
	for {
		var scratch [frameScratchSize]byte
		n := c.rx.Peek(scratch[:])
		if n == 0 {
			return nil
		}
		view := scratch[:n]

		hdr, headerLen := wsframe.ParseHeader(view)
		if headerLen == 0 {
			return nil // incomplete header
		}

		totalFrameSize := uint64(headerLen) + hdr.PayloadLen
		if uint64(n) < totalFrameSize {
			if totalFrameSize > uint64(len(scratch)) {
				return c.setError(ErrCodeFrameParseError)
			}
			return nil // incomplete payload
		}

		payload := view[headerLen:totalFrameSize]
		if hdr.Masked {
			wsframe.Unmask(payload, hdr.MaskKey)
		}

		switch hdr.Opcode {
		case wsframe.OpcodeText, wsframe.OpcodeBinary:
			if c.MessageLimiter != nil && !c.MessageLimiter.Allow() {
				if c.cb.OnError != nil {
					c.cb.OnError(c, NewError(ErrCodeRateLimited, "message rate limited"))
				}
			} else if c.cb.OnMessage != nil {
				c.cb.OnMessage(c, payload, hdr.Opcode == wsframe.OpcodeBinary)
			}
		case wsframe.OpcodeClose:
			if c.cb.OnClose != nil {
				c.cb.OnClose(c, false)
			}
			// Set the state directly: transitionTo would fire OnClose a
			// second time, with clean=true.
			c.state = StateClosed
			c.closeSocket()
			return nil
		case wsframe.OpcodePing:
			c.writeFrameOp(payload, wsframe.OpcodePong)
		case wsframe.OpcodePong, wsframe.OpcodeContinuation:
			// ignored
		}

		c.rx.Advance(int(totalFrameSize))
	}
}

// ---- send + backpressure ----

func (c *Connection) writeFrame(payload []byte, binary bool) {
	op := wsframe.OpcodeText
	if binary {
		op = wsframe.OpcodeBinary
	}
	c.writeFrameOp(payload, op)
}

func (c *Connection) writeFrameOp(payload []byte, op wsframe.Opcode) {
	var header [14]byte
	headerLen := wsframe.EncodeHeader(header[:], op, uint64(len(payload)), false, [4]byte{})

	if !c.tx.Push(header[:headerLen]) {
		c.log("tx buffer overflow (header), connection %d", c.ID)
	} else if len(payload) > 0 {
		if !c.tx.Push(payload) {
			c.log("tx buffer overflow (payload), connection %d", c.ID)
		}
	}
	c.checkHighWatermark()
}

func (c *Connection) writeCloseFrame(code uint16) {
	closePayload := [2]byte{byte(code >> 8), byte(code)}
	var header [14]byte
	headerLen := wsframe.EncodeHeader(header[:], wsframe.OpcodeClose, 2, false, [4]byte{})

	if !c.tx.Push(header[:headerLen]) {
		c.log("tx buffer overflow (close header), connection %d", c.ID)
		return
	}
	if !c.tx.Push(closePayload[:]) {
		c.log("tx buffer overflow (close payload), connection %d", c.ID)
	}
	c.checkHighWatermark()
}

func (c *Connection) checkHighWatermark() {
	if !c.writePaused && c.tx.Len() > c.highWatermark {
		c.writePaused = true
		if c.cb.OnBackpressure != nil {
			c.cb.OnBackpressure(c)
		}
	}
}

func (c *Connection) checkLowWatermark() {
	if c.writePaused && c.tx.Len() < c.lowWatermark {
		c.writePaused = false
		if c.cb.OnDrain != nil {
			c.cb.OnDrain(c)
		}
	}
}

// SendText writes a Text-opcode frame, delegating to the state machine's
// send-request handler (a no-op outside Open).
func (c *Connection) SendText(payload []byte) { c.Send(payload, false) }

// SendBinary writes a Binary-opcode frame.
func (c *Connection) SendBinary(payload []byte) { c.Send(payload, true) }

// ---- raw I/O ----

// HandleRead services a readable event: it fills the inbound buffer via a
// gathered read and, on success, runs the current state's data handler.
func (c *Connection) HandleRead() error {
	first, second := c.rx.WritableViews()
	if len(first) == 0 && len(second) == 0 {
		return c.setError(ErrCodeBufferFull)
	}

	iovs := make([][]byte, 0, 2)
	iovs = append(iovs, first)
	if len(second) > 0 {
		iovs = append(iovs, second)
	}

	n, err := unix.Readv(c.fd, iovs)
	switch {
	case err != nil:
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			c.lastErrorCode = ErrCodeOK
			return nil
		}
		return c.setError(ErrCodeSocketError)
	case n == 0:
		return c.setError(ErrCodeConnectionClosed)
	default:
		c.rx.CommitWrite(n)
		c.lastErrorCode = ErrCodeOK
		return c.HandleData()
	}
}

// HandleWrite services a writable event: it drains the outbound buffer,
// either via a plain write of a copied prefix or a gathered write
// straight from the ring buffer's readable views.
func (c *Connection) HandleWrite() error {
	if c.tx.Empty() {
		c.lastErrorCode = ErrCodeOK
		return nil
	}

	var n int
	var err error
	if c.useGatheredWrite {
		first, second := c.tx.ReadableViews()
		iovs := make([][]byte, 0, 2)
		iovs = append(iovs, first)
		if len(second) > 0 {
			iovs = append(iovs, second)
		}
		n, err = unix.Writev(c.fd, iovs)
	} else {
		var scratch [512]byte
		peeked := c.tx.Peek(scratch[:])
		n, err = unix.Write(c.fd, scratch[:peeked])
	}

	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			c.lastErrorCode = ErrCodeOK
			return nil
		}
		return c.setError(ErrCodeSocketError)
	}
	if n > 0 {
		c.tx.Advance(n)
		c.checkLowWatermark()
	}
	c.lastErrorCode = ErrCodeOK
	return nil
}

