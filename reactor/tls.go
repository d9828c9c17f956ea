// File: reactor/tls.go
// Author: momentics <momentics@gmail.com>
//
// The TLS adapter collaborator interface. The reactor currently uses
// only an adapter's Handshake, once per accepted connection; connection
// I/O goes straight to the socket. The engine
// itself never depends on a concrete TLS stack; plainAdapter is the
// default no-op implementation that lets the compile-time gate always
// have a value instead of a nil interface, matching the corpus's habit
// of shipping a stub/fake alongside every interface it defines.

package reactor

// HandshakeStatus is the outcome of one non-blocking TLS handshake step.
type HandshakeStatus byte

const (
	HandshakeWouldBlock HandshakeStatus = iota
	HandshakeReady
	HandshakeFatal
)

// TLSAdapter interposes between a raw socket and a connection's ring
// buffers. All methods must be non-blocking.
type TLSAdapter interface {
	Handshake() (HandshakeStatus, error)
	Read(dst []byte) (int, error)
	Write(src []byte) (int, error)
	CloseNotify() error
}

// TLSAdapterFactory builds one TLSAdapter per accepted connection.
type TLSAdapterFactory func(fd int) TLSAdapter

// plainAdapter is the no-op TLSAdapter used when Config.TLS is nil: the
// handshake is immediately ready and read/write are never called because
// the reactor talks to the socket directly in that mode.
type plainAdapter struct{}

func newPlainAdapter(int) TLSAdapter { return plainAdapter{} }

func (plainAdapter) Handshake() (HandshakeStatus, error) { return HandshakeReady, nil }
func (plainAdapter) Read(dst []byte) (int, error)        { return 0, nil }
func (plainAdapter) Write(src []byte) (int, error)       { return 0, nil }
func (plainAdapter) CloseNotify() error                  { return nil }
