// File: reactor/server.go
// Author: momentics <momentics@gmail.com>
//
// Server owns the listening socket and the fixed-capacity set of active
// connections, and drives them from a single poll(2) loop: exactly one
// execution context, exactly one suspension point.
// Grounded on original_source/src/server.cpp's Server::run().

package reactor

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/embeddedws/ewsgo/wsproto"
)

// Callbacks is the application's capability set, forwarded verbatim to
// every accepted connection.
type Callbacks = wsproto.Callbacks

// Server is the single-threaded reactor: one listener, one poll loop,
// one fixed-capacity connection slice.
type Server struct {
	cfg      Config
	listenFd int
	cb       Callbacks

	conns   []*wsproto.Connection
	nextID  uint64
	running atomic.Bool

	stats *Stats

	tlsFactory TLSAdapterFactory
}

// NewServer opens, binds, and listens on cfg's configured address. It
// returns a fault immediately, rather than deferring it to Run, whenever
// the listener setup itself fails: a bad bind address or port should
// never surface as a silent no-op reactor.
func NewServer(cfg Config, cb Callbacks) (*Server, error) {
	cfg = cfg.normalized()

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := unix.SockaddrInet4{Port: int(cfg.ListenPort)}
	if cfg.BindAddress != "" {
		ip := net.ParseIP(cfg.BindAddress)
		if ip == nil || ip.To4() == nil {
			unix.Close(fd)
			return nil, fmt.Errorf("reactor: invalid bind address %q", cfg.BindAddress)
		}
		copy(addr.Addr[:], ip.To4())
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: bind port %d: %w", cfg.ListenPort, err)
	}
	if err := unix.Listen(fd, defaultListenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: set non-blocking: %w", err)
	}

	tlsFactory := cfg.TLS
	if tlsFactory == nil {
		tlsFactory = newPlainAdapter
	}

	return &Server{
		cfg:        cfg,
		listenFd:   fd,
		cb:         cb,
		conns:      make([]*wsproto.Connection, 0, cfg.MaxConnections),
		nextID:     1,
		stats:      newStats(cfg.RecentEventsCapacity),
		tlsFactory: tlsFactory,
	}, nil
}

// Stats returns the live statistics block.
func (s *Server) Stats() *Stats { return s.stats }

// Addr reports the listener's bound address, useful when ListenPort was
// given as 0 and the kernel chose an ephemeral port.
func (s *Server) Addr() (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(s.listenFd)
	if err != nil {
		return nil, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, fmt.Errorf("reactor: unexpected sockaddr type %T", sa)
	}
	ip := make(net.IP, 4)
	copy(ip, sa4.Addr[:])
	return &net.TCPAddr{IP: ip, Port: sa4.Port}, nil
}

// ActiveConnectionCount reports the number of connections currently open.
func (s *Server) ActiveConnectionCount() int { return len(s.conns) }

// Stop requests the run loop exit at the next iteration boundary.
func (s *Server) Stop() { s.running.Store(false) }

// Close releases the listening socket. Call after Run returns.
func (s *Server) Close() error {
	return unix.Close(s.listenFd)
}

// Run blocks, servicing the listener and all active connections until
// Stop is called or an unrecoverable poll error occurs.
func (s *Server) Run() error {
	s.running.Store(true)
	pollFds := make([]unix.PollFd, 0, s.cfg.MaxConnections+1)

	for s.running.Load() {
		pollFds = pollFds[:0]
		pollFds = append(pollFds, unix.PollFd{Fd: int32(s.listenFd), Events: unix.POLLIN})
		for _, c := range s.conns {
			events := int16(unix.POLLIN)
			if c.HasDataToSend() {
				events |= unix.POLLOUT
			}
			pollFds = append(pollFds, unix.PollFd{Fd: int32(c.FD()), Events: events})
		}

		start := time.Now()
		_, err := unix.Poll(pollFds, s.cfg.PollTimeoutMS)
		waitUS := uint64(time.Since(start).Microseconds())
		s.stats.recordPollWait(waitUS)

		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: poll: %w", err)
		}
		// A poll timeout still falls through: the deadline sweep must run
		// even when no descriptor is ready.

		if pollFds[0].Revents&unix.POLLIN != 0 {
			s.acceptOne()
		}

		for i := 1; i < len(pollFds); i++ {
			connIdx := i - 1
			if connIdx >= len(s.conns) {
				break
			}
			s.serviceConnection(s.conns[connIdx], pollFds[i].Revents)
		}

		s.sweepDeadlines()
		s.compact()
	}

	return nil
}

func (s *Server) acceptOne() {
	if s.cfg.AcceptLimiter != nil && !s.cfg.AcceptLimiter.Allow() {
		s.drainAndReject()
		return
	}

	if s.stats.Overloaded(s.cfg.MaxConnections) || len(s.conns) >= s.cfg.MaxConnections {
		s.drainAndReject()
		return
	}

	fd, _, err := unix.Accept(s.listenFd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.stats.socketErrors.Add(1)
		return
	}

	unix.SetNonblock(fd, true)
	s.applyTCPTuning(fd)

	id := s.nextID
	s.nextID++

	connCfg := s.cfg.connConfig()
	if s.cfg.MessageLimiterFactory != nil {
		connCfg.MessageLimiter = s.cfg.MessageLimiterFactory()
	}

	conn := wsproto.New(id, fd, connCfg, s.cb)
	conn.TraceID = uuid.New().String()

	if adapter := s.tlsFactory(fd); adapter != nil {
		if status, hsErr := adapter.Handshake(); hsErr != nil || status == HandshakeFatal {
			unix.Close(fd)
			s.stats.socketErrors.Add(1)
			return
		}
	}

	s.conns = append(s.conns, conn)
	s.stats.totalConnections.Add(1)
	s.stats.activeConnections.Add(1)
	s.stats.recordEvent(LifecycleEvent{Kind: EventConnect, ConnectionID: id})
}

// drainAndReject accepts a pending connection purely to drain it from the
// kernel backlog, then immediately closes it and counts a rejection.
func (s *Server) drainAndReject() {
	fd, _, err := unix.Accept(s.listenFd)
	if err == nil {
		unix.Close(fd)
	}
	s.stats.rejected.Add(1)
	s.stats.recordEvent(LifecycleEvent{Kind: EventReject})
}

func (s *Server) serviceConnection(c *wsproto.Connection, revents int16) {
	if revents&unix.POLLIN != 0 {
		wasHandshaking := c.State() == wsproto.StateHandshaking
		if err := c.HandleRead(); err != nil {
			s.noteError(c, err)
			c.Terminate()
		} else if wasHandshaking && c.State() == wsproto.StateOpen {
			s.stats.recordEvent(LifecycleEvent{Kind: EventUpgrade, ConnectionID: c.ID})
		}
	}
	if !c.IsClosed() && revents&unix.POLLOUT != 0 {
		if err := c.HandleWrite(); err != nil {
			s.noteError(c, err)
			c.Terminate()
		}
	}
	if revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		c.Terminate()
	}
}

func (s *Server) noteError(c *wsproto.Connection, err error) {
	switch wsproto.CodeOf(err) {
	case wsproto.ErrCodeSocketError:
		s.stats.socketErrors.Add(1)
	case wsproto.ErrCodeHandshakeFailed:
		s.stats.handshakeErrors.Add(1)
	}
	s.stats.recordEvent(LifecycleEvent{Kind: EventError, ConnectionID: c.ID, Detail: err.Error()})
}

func (s *Server) sweepDeadlines() {
	now := time.Now()
	for _, c := range s.conns {
		switch c.State() {
		case wsproto.StateHandshaking:
			if now.Sub(c.CreatedAt()) > s.cfg.HandshakeDeadline {
				c.Terminate()
			}
		case wsproto.StateClosing:
			if now.Sub(c.EnteredClosingAt()) > s.cfg.CloseDeadline {
				c.Terminate()
			}
		}
	}
}

// compact swaps terminally-closed entries with the last active entry and
// shrinks the slice, preserving stable iteration within the current
// reactor iteration.
func (s *Server) compact() {
	var removed int64
	i := 0
	for i < len(s.conns) {
		c := s.conns[i]
		if c.IsClosed() {
			last := len(s.conns) - 1
			s.conns[i] = s.conns[last]
			s.conns = s.conns[:last]
			removed++
			s.stats.recordEvent(LifecycleEvent{Kind: EventClose, ConnectionID: c.ID})
			continue
		}
		i++
	}
	if removed > 0 {
		s.stats.activeConnections.Add(-removed)
	}
}

func (s *Server) applyTCPTuning(fd int) {
	t := s.cfg.TCPTuning
	if t.NoDelay {
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	if t.QuickAck {
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}
	if t.KeepAlive {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, t.KeepAliveIdleSec)
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, t.KeepAliveIntervalSec)
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, t.KeepAliveCount)
	}
}
