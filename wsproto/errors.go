// Package wsproto implements the connection-level WebSocket protocol: the
// handshake, the frame dispatch loop, the four-state connection lifecycle,
// and the backpressure-aware send path. It is the single point where
// wscrypto, wsframe, and ringbuf come together into a runnable connection.
//
// Author: momentics <momentics@gmail.com>
package wsproto

import "fmt"

// ErrorCode classifies the outcome of a connection operation. The numeric
// values are stable and safe to log or export.
type ErrorCode byte

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeBufferFull
	ErrCodeBufferEmpty
	ErrCodeHandshakeFailed
	ErrCodeFrameParseError
	ErrCodeConnectionClosed
	ErrCodeInvalidState
	ErrCodeSocketError
	ErrCodeTimeout
	ErrCodeMaxConnectionsExceeded
	ErrCodeRateLimited
	ErrCodeInternalError ErrorCode = 255
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeBufferFull:
		return "buffer full"
	case ErrCodeBufferEmpty:
		return "buffer empty"
	case ErrCodeHandshakeFailed:
		return "handshake failed"
	case ErrCodeFrameParseError:
		return "frame parse error"
	case ErrCodeConnectionClosed:
		return "connection closed"
	case ErrCodeInvalidState:
		return "invalid state"
	case ErrCodeSocketError:
		return "socket error"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeMaxConnectionsExceeded:
		return "max connections exceeded"
	case ErrCodeRateLimited:
		return "rate limited"
	default:
		return "internal error"
	}
}

// Error is a structured error carrying an ErrorCode plus context, matching
// the shape of api.Error in the wider stack's protocol layer.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a structured Error for the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the ErrorCode carried by err, or ErrCodeInternalError if
// err is non-nil and isn't a *Error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ErrCodeInternalError
}
