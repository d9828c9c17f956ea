// File: reactor/stats.go
// Author: momentics <momentics@gmail.com>
//
// Server-wide counters, kept as relaxed atomics so an external monitoring
// goroutine may read them without coordinating with the reactor's single
// execution context, plus a bounded diagnostic ring of recent lifecycle
// events. recordEvent is only ever called from the reactor's own
// goroutine (accept/reject/upgrade/close/error all happen inline in Run's loop),
// so the ring is a single-writer, many-reader structure: no lock is held
// at any point, matching the rest of Stats.

package reactor

import "sync/atomic"

// EventKind names a lifecycle transition recorded into RecentEvents.
type EventKind byte

const (
	EventConnect EventKind = iota
	EventUpgrade
	EventClose
	EventReject
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventUpgrade:
		return "upgrade"
	case EventClose:
		return "close"
	case EventReject:
		return "reject"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// LifecycleEvent is one entry in the RecentEvents diagnostic ring.
type LifecycleEvent struct {
	Kind         EventKind
	ConnectionID uint64
	Detail       string
}

// Stats holds the server's monotone counters plus a bounded diagnostic
// ring of recent lifecycle events.
type Stats struct {
	totalConnections  atomic.Uint64
	activeConnections atomic.Int64
	rejected          atomic.Uint64
	socketErrors      atomic.Uint64
	handshakeErrors   atomic.Uint64
	lastPollWaitUS    atomic.Uint64
	maxPollWaitUS     atomic.Uint64

	events   []atomic.Pointer[LifecycleEvent]
	eventSeq atomic.Uint64
}

func newStats(recentEventsCapacity int) *Stats {
	return &Stats{
		events: make([]atomic.Pointer[LifecycleEvent], recentEventsCapacity),
	}
}

// recordEvent stores ev into the next ring slot. Only the reactor
// goroutine ever calls this, so the increment-then-store sequence needs
// no compare-and-swap: there is no concurrent writer to race against.
func (s *Stats) recordEvent(ev LifecycleEvent) {
	if len(s.events) == 0 {
		return
	}
	seq := s.eventSeq.Add(1) - 1
	slot := &s.events[seq%uint64(len(s.events))]
	slot.Store(&ev)
}

// RecentEvents returns a snapshot of the diagnostic ring, oldest first.
// A concurrent recordEvent may overwrite a slot mid-read; the snapshot
// simply omits or races that one entry, which is acceptable for a
// diagnostic view.
func (s *Stats) RecentEvents() []LifecycleEvent {
	if len(s.events) == 0 {
		return nil
	}
	seq := s.eventSeq.Load()
	n := seq
	if n > uint64(len(s.events)) {
		n = uint64(len(s.events))
	}
	out := make([]LifecycleEvent, 0, n)
	start := seq - n
	for i := start; i < seq; i++ {
		if ev := s.events[i%uint64(len(s.events))].Load(); ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}

// TotalConnections is the number of connections ever accepted.
func (s *Stats) TotalConnections() uint64 { return s.totalConnections.Load() }

// ActiveConnections is the number of connections currently open.
func (s *Stats) ActiveConnections() int64 { return s.activeConnections.Load() }

// Rejected is the number of connections refused by admission control.
func (s *Stats) Rejected() uint64 { return s.rejected.Load() }

// SocketErrors is the number of socket-level errors observed.
func (s *Stats) SocketErrors() uint64 { return s.socketErrors.Load() }

// HandshakeErrors is the number of failed handshake attempts.
func (s *Stats) HandshakeErrors() uint64 { return s.handshakeErrors.Load() }

// LastPollWaitMicros is the most recent poll(2) blocking duration.
func (s *Stats) LastPollWaitMicros() uint64 { return s.lastPollWaitUS.Load() }

// MaxPollWaitMicros is the largest poll(2) blocking duration observed.
func (s *Stats) MaxPollWaitMicros() uint64 { return s.maxPollWaitUS.Load() }

// Overloaded reports whether active connections exceed 90% of the
// configured limit.
func (s *Stats) Overloaded(maxConnections int) bool {
	return s.activeConnections.Load() > int64(maxConnections)*9/10
}

func (s *Stats) recordPollWait(us uint64) {
	s.lastPollWaitUS.Store(us)
	for {
		prev := s.maxPollWaitUS.Load()
		if us <= prev || s.maxPollWaitUS.CompareAndSwap(prev, us) {
			break
		}
	}
}
