package content

import (
	"context"
	"time"

	"github.com/keithlinneman/compliance-web/internal/cryptoutil"
	"github.com/keithlinneman/compliance-web/internal/log"
	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

const (
	DefaultPollInterval   = 30 * time.Second
	defaultStaleThreshold = 30 * time.Minute
	maxBackoff            = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollChanged
	// lookup failed; the watcher backs off
	pollRevisionError
	// a new revision was seen but live pages could not be re-rendered
	pollRefreshError
)

// Refresher re-renders live pages against a new revision. An error leaves
// the previous revision active and the next poll tries again.
type Refresher interface {
	Refresh(ctx context.Context, revision string) error
}

type RefresherFunc func(ctx context.Context, revision string) error

func (f RefresherFunc) Refresh(ctx context.Context, revision string) error { return f(ctx, revision) }

// WatcherMetrics is satisfied by *metrics.ServerMetrics.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherRefreshes()
	IncWatcherError(errType string)
	ObserveRefreshDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type nopWatcherMetrics struct{}

func (nopWatcherMetrics) IncWatcherPolls() {}
func (nopWatcherMetrics) IncWatcherRefreshes() {}
func (nopWatcherMetrics) IncWatcherError(string) {}
func (nopWatcherMetrics) ObserveRefreshDuration(float64) {}
func (nopWatcherMetrics) SetWatcherLastSuccess(float64) {}
func (nopWatcherMetrics) SetWatcherStale(bool) {}

type WatcherOptions struct {
	Logger    log.Logger
	Source    Source
	Manager   *Manager
	Refresher Refresher
	// Origin is recorded on revisions the watcher activates.
	Origin       Origin
	PollInterval time.Duration

	// OnChange runs after a new revision is active. Panics are logged.
	OnChange func(revision string)

	Metrics WatcherMetrics

	// StaleThreshold is how long lookups may keep failing before content
	// is reported stale. Defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls the content source and, when the revision moves, refreshes
// every live legacy page before activating the new revision.
type Watcher struct {
	source    Source
	manager   *Manager
	refresher Refresher
	origin    Origin
	logger    log.Logger
	interval  time.Duration
	onChange  func(revision string)
	metrics   WatcherMetrics

	current         string
	consecutiveErrs int

	staleAfter  time.Duration
	lastSuccess time.Time
	stale       bool

	polls, refreshes int64
}

func NewWatcher(opts *WatcherOptions) *Watcher {
	w := &Watcher{
		source:     opts.Source,
		manager:    opts.Manager,
		refresher:  opts.Refresher,
		origin:     opts.Origin,
		logger:     opts.Logger,
		interval:   opts.PollInterval,
		onChange:   opts.OnChange,
		metrics:    opts.Metrics,
		staleAfter: opts.StaleThreshold,
		// the revision resolved at startup is already live
		current:     opts.Manager.ContentRevision(),
		lastSuccess: time.Now(),
	}
	if w.logger == nil {
		w.logger = log.Nop()
	}
	if w.metrics == nil {
		w.metrics = nopWatcherMetrics{}
	}
	if w.interval <= 0 {
		w.interval = DefaultPollInterval
	}
	if w.staleAfter <= 0 {
		w.staleAfter = defaultStaleThreshold
	}
	if w.origin == "" {
		w.origin = OriginUnknown
	}
	w.logger = w.logger.With("component", "content_watcher")
	return w
}

// Run polls until ctx is done and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "content watcher starting",
		"poll_interval", w.interval.String(),
		"current_revision", shortRev(w.current),
	)
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "content watcher stopping", "polls", w.polls, "refreshes", w.refreshes)
			return ctx.Err()
		case <-t.C:
		}

		res := w.checkOnce(ctx)
		switch {
		case res == pollRevisionError:
			w.consecutiveErrs++
			next := w.backoffDuration()
			w.logger.Warn(ctx, "revision lookup failing, backing off",
				"consecutive_errors", w.consecutiveErrs,
				"next_poll_in", next.String(),
			)
			t.Reset(next)
		case w.consecutiveErrs > 0:
			w.logger.Info(ctx, "revision lookup recovered", "after_errors", w.consecutiveErrs)
			w.consecutiveErrs = 0
			t.Reset(w.interval)
		}
		w.updateStale(ctx, res == pollRevisionError)
	}
}

func (w *Watcher) updateStale(ctx context.Context, failing bool) {
	switch {
	case !failing && w.stale:
		w.stale = false
		w.metrics.SetWatcherStale(false)
		w.logger.Info(ctx, "content no longer stale")
	case failing && !w.stale && time.Since(w.lastSuccess) > w.staleAfter:
		w.stale = true
		w.metrics.SetWatcherStale(true)
		err := xerrors.Newf("no successful revision lookup for %s", time.Since(w.lastSuccess).Truncate(time.Second))
		w.logger.Error(ctx, err, "content is stale, serving the last known revision")
	}
}

// checkOnce polls the source once and activates a changed revision after
// live pages were refreshed against it.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.polls++
	w.metrics.IncWatcherPolls()

	rev, err := w.source.Revision(ctx)
	if err != nil {
		w.metrics.IncWatcherError("revision")
		w.logger.Error(ctx, err, "revision lookup failed")
		return pollRevisionError
	}
	w.lastSuccess = time.Now()
	w.metrics.SetWatcherLastSuccess(float64(w.lastSuccess.Unix()))

	if cryptoutil.HashEqual(rev, w.current) {
		return pollNoChange
	}

	L := w.logger.With("old_revision", shortRev(w.current), "new_revision", shortRev(rev))
	L.Info(ctx, "new content revision")

	start := time.Now()
	err = w.refresh(ctx, rev)
	w.metrics.ObserveRefreshDuration(time.Since(start).Seconds())
	if err != nil {
		w.metrics.IncWatcherError("refresh")
		L.Error(ctx, err, "refresh failed, keeping current revision")
		return pollRefreshError
	}

	w.manager.Set(Revision{ID: rev, Origin: w.origin})
	w.current = rev
	w.refreshes++
	w.metrics.IncWatcherRefreshes()
	L.Info(ctx, "content revision active", "total_refreshes", w.refreshes)

	if w.onChange != nil {
		if err := capturePanic(func() error { w.onChange(rev); return nil }); err != nil {
			L.Error(ctx, err, "OnChange callback panicked")
		}
	}
	return pollChanged
}

func (w *Watcher) refresh(ctx context.Context, rev string) error {
	if w.refresher == nil {
		return nil
	}
	return capturePanic(func() error { return w.refresher.Refresh(ctx, rev) })
}

// capturePanic runs fn, turning a panic into an error.
func capturePanic(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Newf("panic: %v", r)
		}
	}()
	return fn()
}

// backoffDuration doubles the interval per consecutive failure up to
// maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := w.interval
	for i := 0; i < w.consecutiveErrs && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

func shortRev(r string) string {
	if len(r) > 16 {
		return r[:16]
	}
	return r
}
