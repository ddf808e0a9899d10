// Package metrics owns the Prometheus registry served on the admin listener:
// HTTP RED metrics, build info, rate limiting, profiling, content revision
// and watcher state, and the legacy render lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/compliance-web/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	errorsTotal            *prometheus.CounterVec
	profilingActive        prometheus.Gauge

	// content
	contentRevisionInfo  *prometheus.GaugeVec
	contentResolvedTs    prometheus.Gauge
	fragmentFetchTotal   *prometheus.CounterVec
	fragmentFetchDur     prometheus.Histogram
	watcherPollsTotal    prometheus.Counter
	watcherRefreshTotal  prometheus.Counter
	watcherErrorsTotal   *prometheus.CounterVec
	watcherRefreshDur    prometheus.Histogram
	watcherLastSuccessTs prometheus.Gauge
	watcherStale         prometheus.Gauge

	// render
	renderSessionsTotal   prometheus.Counter
	renderSupersededTotal prometheus.Counter
	renderRevealTotal     *prometheus.CounterVec
	renderRevealDur       *prometheus.HistogramVec
	stylesheetSettled     *prometheus.CounterVec
	renderLiveMounts      prometheus.Gauge
}

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5, 10}
	sizeBuckets    = prometheus.ExponentialBuckets(256, 4, 8)
	// reveal happens at the latest DefaultRevealTimeout (1.2s) after start
	revealBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.2, 1.5}
)

// New builds an isolated registry with the Go and process collectors. HTTP
// series are labelled by chi route pattern, never the raw path.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	m := &ServerMetrics{reg: reg}

	// http
	m.inflight = gauge("http_inflight_requests", "In-flight requests on the site listener.")
	m.reqTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Site requests by method, route pattern and status.",
	}, []string{"method", "route", "status"})
	m.errorsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Site responses with a 5xx status by method and route pattern.",
	}, []string{"method", "route"})
	m.reqDur = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Site request latency by method and route pattern.",
		Buckets: latencyBuckets,
	}, []string{"method", "route"})
	m.respBytes = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "Site response body size by method and route pattern.",
		Buckets: sizeBuckets,
	}, []string{"method", "route"})
	m.httpPanicTotal = counter("http_panic_total", "Handler panics recovered on either listener.")
	m.ratelimitDeniedTotal = counter("http_requests_rate_limited_total", "Requests answered 429 by the per-ip limiter.")
	m.ratelimitCapacityTotal = counter("http_requests_rate_limited_capacity_total", "Times the limiter turned new IPs away because its table was full.")

	// process
	m.buildInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata, always 1.",
	}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"})
	m.profilingActive = gauge("profiling_active", "1 while continuous profiling is pushing, else 0.")

	// content
	m.contentRevisionInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "content_revision_info",
		Help: "The content revision being served, always 1.",
	}, []string{"revision", "origin"})
	m.contentResolvedTs = gauge("content_revision_resolved_timestamp_seconds", "When the served revision was resolved.")
	m.fragmentFetchTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "content_fragment_fetch_total",
		Help: "Fragment fetches by outcome: ok, not_found or error.",
	}, []string{"outcome"})
	m.fragmentFetchDur = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "content_fragment_fetch_duration_seconds",
		Help:    "Time to fetch and verify one legacy fragment.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	m.watcherPollsTotal = counter("content_watcher_polls_total", "Revision polls made by the content watcher.")
	m.watcherRefreshTotal = counter("content_watcher_refreshes_total", "Revision changes applied to live pages.")
	m.watcherErrorsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "content_watcher_errors_total",
		Help: "Content watcher failures by stage.",
	}, []string{"type"})
	m.watcherRefreshDur = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "content_watcher_refresh_duration_seconds",
		Help:    "Time to refetch and re-render live pages for a new revision.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	m.watcherLastSuccessTs = gauge("content_watcher_last_success_timestamp_seconds", "When a revision poll last succeeded.")
	m.watcherStale = gauge("content_watcher_stale", "1 when no poll has succeeded within the stale threshold.")

	// render
	m.renderSessionsTotal = counter("legacy_render_sessions_total", "Render sessions started.")
	m.renderSupersededTotal = counter("legacy_render_superseded_total", "Sessions discarded unrevealed because newer markup arrived.")
	m.renderRevealTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_render_reveals_total",
		Help: "Reveals by reason: immediate, settled or timeout.",
	}, []string{"reason"})
	m.renderRevealDur = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "legacy_render_reveal_seconds",
		Help:    "Session start to reveal, by reason.",
		Buckets: revealBuckets,
	}, []string{"reason"})
	m.stylesheetSettled = f.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_stylesheet_settled_total",
		Help: "External stylesheet loads settled, by outcome: loaded or failed.",
	}, []string{"outcome"})
	m.renderLiveMounts = gauge("legacy_render_live_mounts", "Mounts held by the render registry.")

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry is exposed for tests and for collectors registered by other packages.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolToFloat(active))
}

// content

func (m *ServerMetrics) SetContentRevision(revision, origin string, resolvedAt time.Time) {
	m.contentRevisionInfo.Reset() // one active revision at a time
	m.contentRevisionInfo.WithLabelValues(revision, origin).Set(1)
	m.contentResolvedTs.Set(float64(resolvedAt.Unix()))
}

func (m *ServerMetrics) ObserveFragmentFetch(outcome string, d time.Duration) {
	m.fragmentFetchTotal.WithLabelValues(outcome).Inc()
	m.fragmentFetchDur.Observe(d.Seconds())
}

func (m *ServerMetrics) IncWatcherPolls() {
	m.watcherPollsTotal.Inc()
}

func (m *ServerMetrics) IncWatcherRefreshes() {
	m.watcherRefreshTotal.Inc()
}

func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) ObserveRefreshDuration(seconds float64) {
	m.watcherRefreshDur.Observe(seconds)
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) {
	m.watcherStale.Set(boolToFloat(stale))
}

// render

func (m *ServerMetrics) IncRenderSessions() {
	m.renderSessionsTotal.Inc()
}

func (m *ServerMetrics) IncRenderSuperseded() {
	m.renderSupersededTotal.Inc()
}

func (m *ServerMetrics) ObserveReveal(reason string, d time.Duration) {
	m.renderRevealTotal.WithLabelValues(reason).Inc()
	m.renderRevealDur.WithLabelValues(reason).Observe(d.Seconds())
}

func (m *ServerMetrics) IncStylesheetSettled(outcome string) {
	m.stylesheetSettled.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) SetLiveMounts(n int) {
	m.renderLiveMounts.Set(float64(n))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
