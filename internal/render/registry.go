package render

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry maps mount names to mounts and evicts mounts nobody has rendered
// or read within the idle TTL.
type Registry struct {
	p *Pipeline

	mu     sync.Mutex
	mounts map[string]*Mount
	closed bool

	ttl  time.Duration
	stop chan struct{}
	wg   sync.WaitGroup
}

type RegistryOption func(*Registry)

// WithIdleTTL sets how long an unused mount is kept. Zero disables eviction.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = d }
}

// NewRegistry creates a Registry. When an idle TTL is set a sweeper runs
// until ctx is done or Close is called.
func NewRegistry(ctx context.Context, p *Pipeline, opts ...RegistryOption) *Registry {
	r := &Registry{
		p:      p,
		mounts: make(map[string]*Mount),
		ttl:    30 * time.Minute,
		stop:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.ttl > 0 {
		r.wg.Add(1)
		go r.sweep(ctx)
	}
	return r
}

// Mount returns the mount for name, creating it if needed. After Close it
// returns a torn down mount that is not tracked.
func (r *Registry) Mount(name string) *Mount {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.mounts[name]; ok {
		return m
	}
	m := r.p.NewMount(name)
	if r.closed {
		m.Teardown()
		return m
	}
	r.mounts[name] = m
	r.p.metrics.SetLiveMounts(len(r.mounts))
	return m
}

// Lookup returns an existing mount.
func (r *Registry) Lookup(name string) (*Mount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mounts[name]
	return m, ok
}

// Remove tears down and forgets the mount for name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	m, ok := r.mounts[name]
	if ok {
		delete(r.mounts, name)
		r.p.metrics.SetLiveMounts(len(r.mounts))
	}
	r.mu.Unlock()

	if ok {
		m.Teardown()
	}
	return ok
}

// Names returns the tracked mount names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.mounts))
	for n := range r.mounts {
		out = append(out, n)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mounts)
}

// Close stops the sweeper and tears down every mount.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	mounts := r.mounts
	r.mounts = make(map[string]*Mount)
	r.p.metrics.SetLiveMounts(0)
	r.mu.Unlock()

	close(r.stop)
	r.wg.Wait()
	for _, m := range mounts {
		m.Teardown()
	}
}

// minSweepInterval keeps tiny TTLs from spinning the sweeper.
const minSweepInterval = time.Second

// sweep runs every ttl/2 so an idle mount lives at most 1.5x ttl. TTLs
// under 2s sweep every second instead.
func (r *Registry) sweep(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(max(r.ttl/2, minSweepInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.evictIdle(now)
		}
	}
}

func (r *Registry) evictIdle(now time.Time) {
	var idle []*Mount
	r.mu.Lock()
	for name, m := range r.mounts {
		last, torn := m.idleSince()
		if torn || now.Sub(last) > r.ttl {
			delete(r.mounts, name)
			idle = append(idle, m)
		}
	}
	r.p.metrics.SetLiveMounts(len(r.mounts))
	r.mu.Unlock()

	for _, m := range idle {
		m.Teardown()
	}
}
