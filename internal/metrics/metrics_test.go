package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/compliance-web/internal/version"
)

func TestHandler_ServesRegistry(t *testing.T) {
	m := New()
	m.IncRenderSessions()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"go_goroutines",
		"http_inflight_requests",
		"http_panic_total",
		"profiling_active",
		"legacy_render_sessions_total",
		"legacy_render_live_mounts",
		"content_watcher_stale",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("%s missing from scrape", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()
	if got := testutil.ToFloat64(b.httpPanicTotal); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	tests := []struct {
		name      string
		dirty     *bool
		wantDirty string
	}{
		{"dirty", boolPtr(true), "true"},
		{"clean", boolPtr(false), "false"},
		{"unknown", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.SetBuildInfoFromVersion(version.AppName, "server", &version.Info{
				Version:   "1.2.3",
				Commit:    "abc123",
				GoVersion: "go1.25.0",
				VCSDirty:  tt.dirty,
			})
			g := m.buildInfo.WithLabelValues(version.AppName, "server", "1.2.3", "abc123", "", "", "", tt.wantDirty, "go1.25.0")
			if got := testutil.ToFloat64(g); got != 1 {
				t.Fatalf("build_info = %v", got)
			}
		})
	}
}

func TestRenderMetrics(t *testing.T) {
	m := New()

	m.IncRenderSessions()
	m.IncRenderSessions()
	m.IncRenderSuperseded()
	m.ObserveReveal("settled", 300*time.Millisecond)
	m.ObserveReveal("timeout", 1200*time.Millisecond)
	m.ObserveReveal("timeout", 1200*time.Millisecond)
	m.IncStylesheetSettled("loaded")
	m.IncStylesheetSettled("failed")
	m.SetLiveMounts(4)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"sessions", testutil.ToFloat64(m.renderSessionsTotal), 2},
		{"superseded", testutil.ToFloat64(m.renderSupersededTotal), 1},
		{"reveals settled", testutil.ToFloat64(m.renderRevealTotal.WithLabelValues("settled")), 1},
		{"reveals timeout", testutil.ToFloat64(m.renderRevealTotal.WithLabelValues("timeout")), 2},
		{"stylesheet loaded", testutil.ToFloat64(m.stylesheetSettled.WithLabelValues("loaded")), 1},
		{"stylesheet failed", testutil.ToFloat64(m.stylesheetSettled.WithLabelValues("failed")), 1},
		{"live mounts", testutil.ToFloat64(m.renderLiveMounts), 4},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.renderRevealDur); n != 2 {
		t.Errorf("reveal histogram series = %d, want 2", n)
	}
	if got := histogramCount(t, m.reg, "legacy_render_reveal_seconds", "timeout"); got != 2 {
		t.Errorf("timeout reveal observations = %d, want 2", got)
	}
}

// histogramCount returns the sample count of the series whose reason label
// matches.
func histogramCount(t *testing.T, reg *prometheus.Registry, name, reason string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var fam *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == name {
			fam = f
		}
	}
	if fam == nil {
		t.Fatalf("%s not gathered", name)
	}
	for _, mt := range fam.GetMetric() {
		for _, lp := range mt.GetLabel() {
			if lp.GetName() == "reason" && lp.GetValue() == reason {
				return mt.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func TestContentMetrics(t *testing.T) {
	m := New()

	m.SetContentRevision("r1", "s3", time.Unix(1700000000, 0))
	m.SetContentRevision("r2", "s3", time.Unix(1700000100, 0))
	if n := testutil.CollectAndCount(m.contentRevisionInfo); n != 1 {
		t.Fatalf("revision info series = %d, want 1", n)
	}
	if got := testutil.ToFloat64(m.contentRevisionInfo.WithLabelValues("r2", "s3")); got != 1 {
		t.Fatalf("revision info = %v", got)
	}
	if got := testutil.ToFloat64(m.contentResolvedTs); got != 1700000100 {
		t.Fatalf("resolved ts = %v", got)
	}

	m.ObserveFragmentFetch("ok", 20*time.Millisecond)
	m.ObserveFragmentFetch("not_found", time.Millisecond)
	if got := testutil.ToFloat64(m.fragmentFetchTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("fetch ok = %v", got)
	}

	m.IncWatcherPolls()
	m.IncWatcherRefreshes()
	m.IncWatcherError("revision")
	m.ObserveRefreshDuration(0.4)
	m.SetWatcherLastSuccess(1700000200)
	m.SetWatcherStale(true)

	if testutil.ToFloat64(m.watcherPollsTotal) != 1 ||
		testutil.ToFloat64(m.watcherRefreshTotal) != 1 ||
		testutil.ToFloat64(m.watcherErrorsTotal.WithLabelValues("revision")) != 1 ||
		testutil.ToFloat64(m.watcherLastSuccessTs) != 1700000200 ||
		testutil.ToFloat64(m.watcherStale) != 1 {
		t.Fatal("watcher metrics not recorded")
	}
	m.SetWatcherStale(false)
	if testutil.ToFloat64(m.watcherStale) != 0 {
		t.Fatal("stale not cleared")
	}
}

func TestRateLimitAndProfiling(t *testing.T) {
	m := New()
	m.IncRateLimitDenied()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()
	m.SetProfilingActive(true)

	if got := testutil.ToFloat64(m.ratelimitDeniedTotal); got != 2 {
		t.Fatalf("denied = %v", got)
	}
	if got := testutil.ToFloat64(m.ratelimitCapacityTotal); got != 1 {
		t.Fatalf("capacity = %v", got)
	}
	if got := testutil.ToFloat64(m.profilingActive); got != 1 {
		t.Fatalf("profiling = %v", got)
	}
}

func boolPtr(b bool) *bool { return &b }
