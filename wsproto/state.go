// File: wsproto/state.go
// Author: momentics <momentics@gmail.com>
//
// Four-state connection lifecycle, represented as a tagged variant plus a
// small per-state dispatch table rather than an interface hierarchy with
// virtual dispatch (that shape would cost an allocation and an indirect
// call per state object; the corpus this engine is grounded on uses a
// static table of function pointers per state instead).

package wsproto

import "github.com/embeddedws/ewsgo/wsframe"

// State names one of the four points in a connection's life.
type State byte

const (
	StateHandshaking State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateHandlers is the function table for one state: the three events a
// connection can receive (new bytes arrived, the application asked to
// send, the application asked to close via Connection.Close).
type stateHandlers struct {
	onData  func(c *Connection) error
	onSend  func(c *Connection, payload []byte, binary bool) error
	onClose func(c *Connection, code uint16) error
}

// dispatch is indexed by State; built once at init time, never mutated.
var dispatch [4]stateHandlers

func init() {
	dispatch[StateHandshaking] = stateHandlers{
		onData:  handshakingOnData,
		onSend:  handshakingOnSend,
		onClose: handshakingOnClose,
	}
	dispatch[StateOpen] = stateHandlers{
		onData:  openOnData,
		onSend:  openOnSend,
		onClose: openOnClose,
	}
	dispatch[StateClosing] = stateHandlers{
		onData:  closingOnData,
		onSend:  closingOnSend,
		onClose: closingOnClose,
	}
	dispatch[StateClosed] = stateHandlers{
		onData:  closedOnData,
		onSend:  closedOnSend,
		onClose: closedOnClose,
	}
}

func handshakingOnData(c *Connection) error {
	if err := c.parseHandshake(); err != nil {
		return err
	}
	// parseHandshake queues the 101 response only once the request is
	// complete; an empty tx buffer means more data is still needed.
	if c.tx.Empty() {
		return nil
	}
	c.transitionTo(StateOpen)
	return nil
}

func handshakingOnSend(c *Connection, _ []byte, _ bool) error {
	return NewError(ErrCodeInvalidState, "cannot send before handshake completes")
}

func handshakingOnClose(c *Connection, _ uint16) error {
	c.closeSocket()
	c.transitionTo(StateClosed)
	return nil
}

func openOnData(c *Connection) error {
	return c.parseFrames()
}

func openOnSend(c *Connection, payload []byte, binary bool) error {
	c.writeFrame(payload, binary)
	return nil
}

func openOnClose(c *Connection, code uint16) error {
	c.writeCloseFrame(code)
	c.transitionTo(StateClosing)
	return nil
}

func closingOnData(c *Connection) error {
	var scratch [1024]byte
	n := c.rx.Peek(scratch[:])
	if n == 0 {
		return nil
	}
	hdr, headerLen := wsframe.ParseHeader(scratch[:n])
	if headerLen > 0 && hdr.Opcode == wsframe.OpcodeClose {
		c.transitionTo(StateClosed)
		c.closeSocket()
	}
	return nil
}

func closingOnSend(c *Connection, _ []byte, _ bool) error {
	return NewError(ErrCodeInvalidState, "cannot send while closing")
}

func closingOnClose(c *Connection, _ uint16) error {
	return nil
}

func closedOnData(c *Connection) error {
	return NewError(ErrCodeConnectionClosed, "connection is closed")
}

func closedOnSend(c *Connection, _ []byte, _ bool) error {
	return NewError(ErrCodeConnectionClosed, "connection is closed")
}

func closedOnClose(c *Connection, _ uint16) error {
	return NewError(ErrCodeConnectionClosed, "connection is closed")
}
