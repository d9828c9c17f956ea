// File: reactor/config.go
// Author: momentics <momentics@gmail.com>
//
// Server configuration: listener placement, admission thresholds, socket
// tuning, deadlines, and the optional rate-limiting/observability knobs
// layered on top of the core protocol.

package reactor

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/embeddedws/ewsgo/wsproto"
)

// maxConnectionsCapacity is the compile-time ceiling on simultaneously
// active connections; Config.MaxConnections is clamped to it.
const maxConnectionsCapacity = 64

const (
	defaultMaxConnections = 50
	defaultPollTimeoutMS  = 1000
	defaultListenBacklog  = 128
)

// TCPTuning mirrors the per-connection socket options applied at accept
// time.
type TCPTuning struct {
	NoDelay  bool
	QuickAck bool
	KeepAlive bool

	KeepAliveIdleSec     int
	KeepAliveIntervalSec int
	KeepAliveCount       int
}

// DefaultTCPTuning matches the original engine's defaults: keepalive
// parameters are set but the switches themselves default off.
func DefaultTCPTuning() TCPTuning {
	return TCPTuning{
		KeepAliveIdleSec:     60,
		KeepAliveIntervalSec: 10,
		KeepAliveCount:       5,
	}
}

// Config gathers every recognized server option plus the ambient/domain
// enrichments layered on top of it.
type Config struct {
	ListenPort  uint16
	BindAddress string // empty binds INADDR_ANY

	MaxConnections   int
	PollTimeoutMS    int
	UseGatheredWrite bool
	TCPTuning        TCPTuning

	HandshakeDeadline time.Duration
	CloseDeadline     time.Duration

	// HighWatermark/LowWatermark are absolute byte counts against the
	// per-connection transmit buffer; zero selects wsproto's own
	// 75%/25%-of-capacity defaults.
	HighWatermark int
	LowWatermark  int

	RxCapacity int
	TxCapacity int

	Logger func(format string, args ...any)

	// AcceptLimiter, when set, throttles the rate of accepted TCP
	// connections independently of the hard MaxConnections ceiling.
	AcceptLimiter *rate.Limiter

	// MessageLimiterFactory, when set, is called once per accepted
	// connection to build that connection's inbound-message limiter.
	MessageLimiterFactory func() *rate.Limiter

	// RecentEventsCapacity bounds the diagnostic lifecycle-event ring;
	// zero selects the default of 64.
	RecentEventsCapacity int

	// TLS is the optional adapter factory. When non-nil, the reactor
	// builds one adapter per accepted connection and runs its Handshake
	// once; an error or HandshakeFatal drops the connection, any other
	// status admits it. Connection I/O always goes straight to the
	// socket: the reactor never calls the adapter's Read, Write or
	// CloseNotify.
	TLS TLSAdapterFactory
}

// normalized returns a copy of cfg with MaxConnections, PollTimeoutMS,
// the two deadlines, the buffer capacities, RecentEventsCapacity and
// Logger replaced by their defaults when unset (MaxConnections is also
// clamped to maxConnectionsCapacity). Watermarks are left at zero for
// wsproto to default; TCPTuning is used exactly as given.
func (cfg Config) normalized() Config {
	out := cfg
	if out.MaxConnections <= 0 || out.MaxConnections > maxConnectionsCapacity {
		if out.MaxConnections > maxConnectionsCapacity {
			out.MaxConnections = maxConnectionsCapacity
		} else {
			out.MaxConnections = defaultMaxConnections
		}
	}
	if out.PollTimeoutMS <= 0 {
		out.PollTimeoutMS = defaultPollTimeoutMS
	}
	if out.HandshakeDeadline <= 0 {
		out.HandshakeDeadline = 5 * time.Second
	}
	if out.CloseDeadline <= 0 {
		out.CloseDeadline = 5 * time.Second
	}
	if out.RxCapacity <= 0 {
		out.RxCapacity = wsproto.DefaultRxCapacity
	}
	if out.TxCapacity <= 0 {
		out.TxCapacity = wsproto.DefaultTxCapacity
	}
	if out.RecentEventsCapacity <= 0 {
		out.RecentEventsCapacity = 64
	}
	if out.Logger == nil {
		out.Logger = func(string, ...any) {}
	}
	return out
}

func (cfg Config) connConfig() wsproto.Config {
	return wsproto.Config{
		RxCapacity:        cfg.RxCapacity,
		TxCapacity:        cfg.TxCapacity,
		HandshakeDeadline: cfg.HandshakeDeadline,
		CloseDeadline:     cfg.CloseDeadline,
		HighWatermark:     cfg.HighWatermark,
		LowWatermark:      cfg.LowWatermark,
		UseGatheredWrite:  cfg.UseGatheredWrite,
		Logger:            cfg.Logger,
	}
}
