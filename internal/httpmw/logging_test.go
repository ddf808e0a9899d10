package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/compliance-web/internal/log"
)

type logRecord struct {
	level string
	msg   string
	err   error
	kv    map[string]any
}

// captureLogger records every entry with its With fields merged in.
type captureLogger struct {
	mu      *sync.Mutex
	fields  []any
	records *[]logRecord
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{mu: &sync.Mutex{}, records: &[]logRecord{}}
}

func (c *captureLogger) With(kv ...any) log.Logger {
	f := append(append([]any{}, c.fields...), kv...)
	return &captureLogger{mu: c.mu, fields: f, records: c.records}
}

func (c *captureLogger) add(level string, err error, msg string, kv []any) {
	m := map[string]any{}
	all := append(append([]any{}, c.fields...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			m[k] = all[i+1]
		}
	}
	c.mu.Lock()
	*c.records = append(*c.records, logRecord{level: level, msg: msg, err: err, kv: m})
	c.mu.Unlock()
}

func (c *captureLogger) Debug(_ context.Context, msg string, kv ...any) { c.add("debug", nil, msg, kv) }
func (c *captureLogger) Info(_ context.Context, msg string, kv ...any)  { c.add("info", nil, msg, kv) }
func (c *captureLogger) Warn(_ context.Context, msg string, kv ...any)  { c.add("warn", nil, msg, kv) }
func (c *captureLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	c.add("error", err, msg, kv)
}
func (c *captureLogger) Sync() error { return nil }

func (c *captureLogger) all() []logRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]logRecord(nil), *c.records...)
}

// newLoggedRouter mirrors the order httpserver uses: request id and client ip
// outside, logger, then chi with the access log inside.
func newLoggedRouter(L log.Logger, h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(AccessLog())
	r.Get("/legacy/*", h)
	r.Get("/static/*", h)
	r.Get("/-/ready", h)
	var out http.Handler = r
	out = WithLogger(L)(out)
	out = ClientIPWithOptions(ClientIPOptions{})(out)
	return RequestID("")(out)
}

func TestAccessLog_PageRequest(t *testing.T) {
	L := newCaptureLogger()
	h := newLoggedRouter(L, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	})

	req := httptest.NewRequest(http.MethodGet, "/legacy/policies/retention", nil)
	req.RemoteAddr = "198.51.100.3:4000"
	req.Header.Set("User-Agent", "secret-agent")
	h.ServeHTTP(httptest.NewRecorder(), req)

	recs := L.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	kv := recs[0].kv
	checks := map[string]any{
		"http.response.status_code": http.StatusServiceUnavailable,
		"http.response.body.size":   int64(len("maintenance")),
		"http.route":                "/legacy/*",
		"client.address":            "198.51.100.3",
		"url.path":                  "/legacy/policies/retention",
		"url.scheme":                "http",
	}
	for k, want := range checks {
		if kv[k] != want {
			t.Errorf("%s = %v, want %v", k, kv[k], want)
		}
	}
	if kv["request_id"] == "" || kv["request_id"] == nil {
		t.Error("request_id missing")
	}
	if _, ok := kv["http.server.ttfb"]; !ok {
		t.Error("ttfb missing")
	}
	for k, v := range kv {
		if v == "secret-agent" {
			t.Errorf("user agent leaked into %s", k)
		}
	}
}

func TestAccessLog_SkipsAssetsAndProbes(t *testing.T) {
	L := newCaptureLogger()
	h := newLoggedRouter(L, func(w http.ResponseWriter, r *http.Request) {})

	for _, p := range []string{"/static/site.css", "/static/legacy/bullet.svg", "/-/ready", "/legacy/logo.png"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	if recs := L.all(); len(recs) != 0 {
		t.Fatalf("records = %+v, want none", recs)
	}
}

func TestAccessLog_ImplicitOK(t *testing.T) {
	L := newCaptureLogger()
	h := newLoggedRouter(L, func(w http.ResponseWriter, r *http.Request) {})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/legacy/index", nil))

	recs := L.all()
	if len(recs) != 1 || recs[0].kv["http.response.status_code"] != http.StatusOK {
		t.Fatalf("records = %+v", recs)
	}
}

func TestRequestScheme(t *testing.T) {
	tests := []struct {
		name string
		xfp  string
		want string
	}{
		{"default", "", "http"},
		{"forwarded https", "https", "https"},
		{"first of list", "HTTPS, http", "https"},
		{"junk ignored", "gopher", "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.xfp != "" {
				r.Header.Set("X-Forwarded-Proto", tt.xfp)
			}
			if got := requestScheme(r); got != tt.want {
				t.Fatalf("requestScheme = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}
	if err := http.NewResponseController(sr).Flush(); err != nil {
		t.Fatalf("Flush through recorder: %v", err)
	}
	if !rec.Flushed {
		t.Fatal("underlying writer not flushed")
	}
}
