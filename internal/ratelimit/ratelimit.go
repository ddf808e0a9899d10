package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/compliance-web/internal/httpmw"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reported is set after the first denial so offenders log once per
	// lifetime of the bucket
	reported bool
}

// IPLimiter keeps one token bucket per client IP.
type IPLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	full    bool

	refill     rate.Limit
	burst      int
	idleTTL    time.Duration
	maxBuckets int
	cost       func(*http.Request) int

	onDenied      func(ip string)
	onFirstDenied func(ip string)
	onCapacity    func()
}

type Option func(*IPLimiter)

// WithRate refills perSecond tokens per second into a bucket holding burst.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.refill = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle IP keeps its bucket.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.idleTTL = d }
}

// WithCost sets the tokens a request takes. Zero exempts the request and
// costs above the burst are clamped to it.
func WithCost(fn func(*http.Request) int) Option {
	return func(l *IPLimiter) { l.cost = fn }
}

// WithMaxVisitors caps tracked IPs; unseen IPs are denied while the cap is
// reached. Zero disables the cap.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) { l.maxBuckets = n }
}

// WithOnDenied runs on every denied request.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onDenied = fn }
}

// WithOnFirstDenied runs on the first denial of an IP's bucket.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onFirstDenied = fn }
}

// WithOnCapacity runs when the IP cap is first hit, and again only after
// eviction has made room.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.onCapacity = fn }
}

// New returns a limiter whose idle buckets are evicted until ctx is done.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		buckets:    make(map[string]*bucket),
		refill:     10,
		burst:      30,
		idleTTL:    5 * time.Minute,
		maxBuckets: 100_000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

type verdict int

const (
	allowed verdict = iota
	denied
	deniedFirst
	deniedFull
	deniedFullFirst
)

func (l *IPLimiter) take(ip string, n int, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		if l.maxBuckets > 0 && len(l.buckets) >= l.maxBuckets {
			if l.full {
				return deniedFull
			}
			l.full = true
			return deniedFullFirst
		}
		b = &bucket{limiter: rate.NewLimiter(l.refill, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	if b.limiter.AllowN(now, min(n, l.burst)) {
		return allowed
	}
	if b.reported {
		return denied
	}
	b.reported = true
	return deniedFirst
}

// allow reports whether ip may spend n tokens. Hooks run outside the lock.
func (l *IPLimiter) allow(ip string, n int) bool {
	v := l.take(ip, n, time.Now())
	switch v {
	case allowed:
		return true
	case deniedFullFirst:
		if l.onCapacity != nil {
			l.onCapacity()
		}
	case deniedFirst:
		if l.onFirstDenied != nil {
			l.onFirstDenied(ip)
		}
	}
	if (v == denied || v == deniedFirst) && l.onDenied != nil {
		l.onDenied(ip)
	}
	return false
}

func (l *IPLimiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(l.idleTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evict(now)
		}
	}
}

// evict drops buckets idle longer than the TTL and reopens the IP cap.
func (l *IPLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, ip)
		}
	}
	if l.maxBuckets <= 0 || len(l.buckets) < l.maxBuckets {
		l.full = false
	}
}

func (l *IPLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware answers 429 without detail once the client IP (as resolved by
// httpmw.ClientIPWithOptions) is over its limit.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := 1
		if l.cost != nil {
			n = l.cost(r)
		}
		if n > 0 && !l.allow(httpmw.ClientIPFromContext(r.Context()), n) {
			h := w.Header()
			h.Set("Content-Type", "text/plain; charset=utf-8")
			h.Set("Cache-Control", "no-store")
			h.Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("too many requests\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PageCost charges pageTokens for /legacy/ pages, nothing for probes, and
// one token for anything else.
func PageCost(pageTokens int) func(*http.Request) int {
	return func(r *http.Request) int {
		switch p := r.URL.Path; {
		case p == "/-/healthy" || p == "/-/ready":
			return 0
		case strings.HasPrefix(p, "/legacy/"):
			return pageTokens
		default:
			return 1
		}
	}
}
