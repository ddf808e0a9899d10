package render

import (
	"context"
	"crypto/sha256"
	"sync/atomic"
	"time"
)

// Session is one render of one fragment into a mount's scope. Its state is
// written under the mount lock; the accessors are safe to call from any
// goroutine.
type Session struct {
	id       uint64
	identity [sha256.Size]byte
	started  time.Time

	state  atomic.Int32
	reason atomic.Value // RevealReason

	// guarded by the owning Mount's mu
	pending int
	timer   *time.Timer
	detach  []func()
	cancel  context.CancelFunc
	closed  bool

	done chan struct{}
}

func newSession(id uint64, identity [sha256.Size]byte, now time.Time) *Session {
	return &Session{
		id:       id,
		identity: identity,
		started:  now,
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when the session is revealed or discarded.
func (s *Session) Done() <-chan struct{} { return s.done }

// RevealReason is empty until the session is revealed.
func (s *Session) RevealReason() RevealReason {
	r, _ := s.reason.Load().(RevealReason)
	return r
}

// advance moves the state forward and ignores backward moves.
func (s *Session) advance(to State) bool {
	for {
		cur := s.state.Load()
		if State(cur) >= to {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// release stops the timer and detaches every pending loader callback. It
// is idempotent. Callers hold the mount lock.
func (s *Session) release() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for _, d := range s.detach {
		d()
	}
	s.detach = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) finish() {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}
