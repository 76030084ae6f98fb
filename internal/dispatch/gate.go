package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/tuyalink-core/internal/transport"
)

// Gate enforces the engine's central invariant: at most one live session
// per device, with commands for the same device served strictly in arrival
// order. Commands for different devices proceed fully in parallel.
//
// A successful Acquire grants exclusive ownership of the device's slot,
// including any cached session from a previous command. Ownership ends
// with Release; on release the slot is handed to the longest-waiting
// acquirer, or marked free.
type Gate struct {
	mu    sync.Mutex
	slots map[string]*slot

	// idleTimeout is how long a released session stays warm for reuse.
	idleTimeout time.Duration

	// closeSession tears down a session (adapter.Close).
	closeSession func(transport.Session) error
}

// slot is one device's exclusive connection state.
//
// Invariant: queue is non-empty only while busy is true. Release hands the
// slot directly to the head waiter (busy stays true), so FIFO order can
// never be jumped by a fresh acquirer.
type slot struct {
	busy         bool
	queue        []chan struct{}
	session      transport.Session
	idleDeadline time.Time
}

// NewGate creates a connection gate. closeSession is called whenever the
// gate discards a session (invalidation, idle expiry, shutdown).
func NewGate(idleTimeout time.Duration, closeSession func(transport.Session) error) *Gate {
	if closeSession == nil {
		closeSession = func(transport.Session) error { return nil }
	}
	return &Gate{
		slots:        make(map[string]*slot),
		idleTimeout:  idleTimeout,
		closeSession: closeSession,
	}
}

// Acquire blocks until the device's exclusive slot is free or ctx expires.
// Waiters are served strictly first-in first-out.
//
// On ctx expiry the waiter is removed from the queue and ErrAcquireTimeout
// (or the context error) is returned; if the slot was handed over in the
// same instant, it is passed on to the next waiter rather than leaked.
func (g *Gate) Acquire(ctx context.Context, deviceID string) (*Lease, error) {
	g.mu.Lock()
	s := g.slot(deviceID)

	if !s.busy {
		s.busy = true
		g.expireSessionLocked(s)
		g.mu.Unlock()
		return &Lease{gate: g, deviceID: deviceID}, nil
	}

	ch := make(chan struct{})
	s.queue = append(s.queue, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		g.mu.Lock()
		g.expireSessionLocked(s)
		g.mu.Unlock()
		return &Lease{gate: g, deviceID: deviceID}, nil

	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-ch:
			// Handover raced our timeout: we own the slot but no
			// longer want it. Pass it straight on.
			g.handoverLocked(s)
			g.mu.Unlock()
		default:
			g.removeWaiterLocked(s, ch)
			g.mu.Unlock()
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrAcquireTimeout
		}
		return nil, ctx.Err()
	}
}

// CloseIdle closes cached sessions whose idle deadline has passed on
// devices that are not currently busy. Returns how many were closed.
// Intended to be driven by a janitor ticker.
func (g *Gate) CloseIdle(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	closed := 0
	for _, s := range g.slots {
		if !s.busy && s.session != nil && now.After(s.idleDeadline) {
			g.closeSession(s.session) //nolint:errcheck // session is being discarded
			s.session = nil
			closed++
		}
	}
	return closed
}

// CloseAll closes every cached session on devices that are not busy.
// Called on shutdown.
func (g *Gate) CloseAll() {
	g.CloseIdle(time.Unix(1<<62, 0))
}

// slot returns the slot for a device, creating it on first use.
// Caller must hold g.mu.
func (g *Gate) slot(deviceID string) *slot {
	s, ok := g.slots[deviceID]
	if !ok {
		s = &slot{}
		g.slots[deviceID] = s
	}
	return s
}

// expireSessionLocked discards the cached session if its idle deadline has
// passed. Caller must hold g.mu and own the slot.
func (g *Gate) expireSessionLocked(s *slot) {
	if s.session != nil && time.Now().After(s.idleDeadline) {
		g.closeSession(s.session) //nolint:errcheck // session is being discarded
		s.session = nil
	}
}

// handoverLocked passes slot ownership to the next waiter, or frees it.
// Caller must hold g.mu and own the slot.
func (g *Gate) handoverLocked(s *slot) {
	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		close(next)
		return
	}
	s.busy = false
}

// removeWaiterLocked drops a waiter that gave up. Caller must hold g.mu.
func (g *Gate) removeWaiterLocked(s *slot, ch chan struct{}) {
	for i, waiter := range s.queue {
		if waiter == ch {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Lease is exclusive ownership of one device's connection slot between
// Acquire and Release. It must be released exactly once, by the goroutine
// that finishes the transport call. When a transport call cannot be
// cancelled, release may happen after the dispatching caller's deadline.
type Lease struct {
	gate     *Gate
	deviceID string
	released bool
}

// Session returns the cached session for this device, or nil if a fresh
// one must be opened.
func (l *Lease) Session() transport.Session {
	l.gate.mu.Lock()
	defer l.gate.mu.Unlock()
	return l.gate.slot(l.deviceID).session
}

// SetSession stores a freshly opened session in the slot so subsequent
// commands can reuse it.
func (l *Lease) SetSession(sess transport.Session) {
	l.gate.mu.Lock()
	defer l.gate.mu.Unlock()
	l.gate.slot(l.deviceID).session = sess
}

// Release returns the slot. With invalidate true the held session is
// closed so the next acquire opens a fresh one instead of reusing a
// possibly corrupted connection; otherwise the session stays warm until
// the idle timeout.
func (l *Lease) Release(invalidate bool) {
	l.gate.mu.Lock()
	defer l.gate.mu.Unlock()

	if l.released {
		return
	}
	l.released = true

	s := l.gate.slot(l.deviceID)
	if invalidate {
		if s.session != nil {
			l.gate.closeSession(s.session) //nolint:errcheck // session is being discarded
			s.session = nil
		}
	} else if s.session != nil {
		s.idleDeadline = time.Now().Add(l.gate.idleTimeout)
	}

	l.gate.handoverLocked(s)
}
