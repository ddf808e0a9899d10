package content

import (
	"errors"
	"sync/atomic"
	"time"
)

// Revision is the content revision currently served.
type Revision struct {
	ID         string
	Origin     Origin
	ResolvedAt time.Time
}

type Manager struct {
	active atomic.Pointer[Revision]
}

func NewManager() *Manager { return &Manager{} }

// Set sets the active revision safely
func (m *Manager) Set(r Revision) {
	cp := new(Revision)
	*cp = r
	if cp.ResolvedAt.IsZero() {
		cp.ResolvedAt = time.Now().UTC()
	}
	if cp.Origin == "" {
		cp.Origin = OriginUnknown
	}
	m.active.Store(cp)
}

// Get retrieves the active revision
func (m *Manager) Get() (*Revision, bool) {
	r := m.active.Load()
	return r, r != nil && r.ID != ""
}

// ContentRevision returns the active revision id for headers.
// Implements httpmw.ContentInfo.
func (m *Manager) ContentRevision() string {
	r := m.active.Load()
	if r == nil {
		return ""
	}
	return r.ID
}

// ResolvedAt returns when the active revision was set, or zero.
func (m *Manager) ResolvedAt() time.Time {
	r := m.active.Load()
	if r == nil {
		return time.Time{}
	}
	return r.ResolvedAt
}

// ReadyErr returns an error if no revision has been resolved yet
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return errors.New("content: no active revision")
	}
	return nil
}
