package render

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

var (
	// ErrTornDown is returned for mounts that have been torn down.
	ErrTornDown = errors.New("render: mount torn down")
	// ErrNoContent is returned by Revealed before the first Render.
	ErrNoContent = errors.New("render: mount has no content")
)

// Mount is one mount point. It owns its Scope and at most one live Session.
type Mount struct {
	name string
	p    *Pipeline

	mu       sync.Mutex
	scope    *Scope
	live     *Session
	nextID   uint64
	torn     bool
	lastUsed time.Time
}

func (m *Mount) Name() string { return m.name }

// Live returns the current session, or nil.
func (m *Mount) Live() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Render starts a session for raw. Rendering the fragment that is already
// live returns the live session unchanged. Any other fragment supersedes
// the live session: its timer and loader callbacks are released before the
// scope is touched. On a torn down mount the returned session is already
// done and never revealed.
//
// ctx only carries values (trace, logger) to the loader; cancelling it does
// not cancel the session.
func (m *Mount) Render(ctx context.Context, raw string) *Session {
	identity := sha256.Sum256([]byte(raw))

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.lastUsed = now

	if m.torn {
		s := newSession(0, identity, now)
		s.finish()
		return s
	}
	if m.live != nil && m.live.identity == identity {
		return m.live
	}

	if old := m.live; old != nil {
		old.release()
		if old.State() != StateRevealed {
			m.p.metrics.IncRenderSuperseded()
			m.p.logger.Debug(ctx, "render session superseded",
				"mount", m.name, "session", old.id, "state", old.State().String())
		}
		old.finish()
	}

	m.nextID++
	s := newSession(m.nextID, identity, now)
	m.live = s
	m.p.metrics.IncRenderSessions()

	nodes := m.p.prepare(raw)
	m.scope.clear()
	m.scope.injectOverride(m.p.manifest.OverrideCSS())

	sheets := m.p.sheets
	if len(nodes) == 0 {
		// empty content is revealed at once, there is nothing to style
		sheets = nil
	}
	for _, href := range sheets {
		m.scope.addStylesheet(href)
	}
	m.scope.place(nodes)

	if len(sheets) == 0 {
		m.revealLocked(ctx, s, RevealImmediate)
		return s
	}

	s.advance(StateAwaitingStyles)
	s.pending = len(sheets)

	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.timer = time.AfterFunc(m.p.timeout, func() { m.onTimeout(lctx, s) })
	for _, href := range sheets {
		d := m.p.loader.Load(lctx, href, func(err error) { m.onSettled(lctx, s, href, err) })
		if d != nil {
			s.detach = append(s.detach, d)
		}
	}
	return s
}

func (m *Mount) onSettled(ctx context.Context, s *Session, href string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live != s || s.State() != StateAwaitingStyles {
		return
	}
	outcome := "loaded"
	if err != nil {
		outcome = "failed"
		m.p.logger.Warn(ctx, "legacy stylesheet failed to load, treating as settled",
			"mount", m.name, "href", href, "error", err)
	}
	m.p.metrics.IncStylesheetSettled(outcome)

	s.pending--
	if s.pending <= 0 {
		m.revealLocked(ctx, s, RevealSettled)
	}
}

func (m *Mount) onTimeout(ctx context.Context, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live != s || s.State() != StateAwaitingStyles {
		return
	}
	m.p.logger.Debug(ctx, "reveal timeout reached",
		"mount", m.name, "session", s.id, "pending", s.pending)
	m.revealLocked(ctx, s, RevealTimeout)
}

func (m *Mount) revealLocked(ctx context.Context, s *Session, reason RevealReason) {
	s.release()
	if !s.advance(StateRevealed) {
		return
	}
	s.reason.Store(reason)
	m.scope.reveal()
	s.finish()

	d := time.Since(s.started)
	m.p.metrics.ObserveReveal(string(reason), d)
	m.p.logger.Debug(ctx, "legacy content revealed",
		"mount", m.name, "session", s.id, "reason", string(reason), "elapsed", d)
}

// Teardown releases the live session and empties the scope. Later calls to
// Render or Revealed see ErrTornDown. Teardown is idempotent.
func (m *Mount) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.torn {
		return
	}
	m.torn = true
	if s := m.live; s != nil {
		s.release()
		s.finish()
		m.live = nil
	}
	m.scope.close()
}

// Revealed waits until the live session is revealed and returns the scope
// markup. When the live session is superseded while waiting it follows the
// new one.
func (m *Mount) Revealed(ctx context.Context) ([]byte, error) {
	for {
		m.mu.Lock()
		if m.torn {
			m.mu.Unlock()
			return nil, ErrTornDown
		}
		s := m.live
		if s == nil {
			m.mu.Unlock()
			return nil, ErrNoContent
		}
		if s.State() == StateRevealed {
			m.lastUsed = time.Now()
			b, err := m.scope.bytes()
			m.mu.Unlock()
			if err != nil {
				return nil, xerrors.Wrap(err, "render scope")
			}
			return b, nil
		}
		m.mu.Unlock()

		select {
		case <-s.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Snapshot returns the scope markup as it is now, hidden or not.
func (m *Mount) Snapshot() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.torn {
		return "", ErrTornDown
	}
	var b strings.Builder
	if err := m.scope.Render(&b); err != nil {
		return "", xerrors.Wrap(err, "render scope")
	}
	return b.String(), nil
}

func (m *Mount) idleSince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed, m.torn
}
