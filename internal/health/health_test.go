package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

var errNoRevision = errors.New("no content revision resolved")

type readier struct{ err error }

func (r *readier) ReadyErr() error { return r.err }

func TestFixed(t *testing.T) {
	if err := Fixed(true, "ignored").Check(t.Context()); err != nil {
		t.Fatalf("Fixed(true) = %v", err)
	}
	if err := Fixed(false, "maintenance").Check(t.Context()); err == nil || err.Error() != "maintenance" {
		t.Fatalf("Fixed(false, reason) = %v", err)
	}
	if err := Fixed(false, "").Check(t.Context()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("Fixed(false, \"\") = %v", err)
	}
}

func TestAll(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	calls := 0
	counted := CheckFunc(func(context.Context) error { calls++; return nil })

	tests := []struct {
		name   string
		probes []Probe
		want   error
	}{
		{"empty", nil, nil},
		{"nil entries skipped", []Probe{nil, Fixed(true, ""), nil}, nil},
		{"first failure wins", []Probe{Fixed(true, ""), CheckFunc(func(context.Context) error { return first }), CheckFunc(func(context.Context) error { return second })}, first},
		{"short circuits", []Probe{CheckFunc(func(context.Context) error { return second }), counted}, second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := All(tt.probes...).Check(t.Context()); !errors.Is(err, tt.want) {
				t.Fatalf("All = %v, want %v", err, tt.want)
			}
		})
	}
	if calls != 0 {
		t.Fatalf("probe after a failure ran %d times", calls)
	}
}

func TestReady(t *testing.T) {
	mgr := &readier{err: errNoRevision}
	p := Ready(mgr)
	if err := p.Check(t.Context()); !errors.Is(err, errNoRevision) {
		t.Fatalf("before resolve = %v", err)
	}
	mgr.err = nil
	if err := p.Check(t.Context()); err != nil {
		t.Fatalf("after resolve = %v", err)
	}
	if err := Ready(nil).Check(t.Context()); err == nil {
		t.Fatal("nil readier should fail")
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	if err := p.Check(t.Context()); err != nil {
		t.Fatalf("zero gate = %v", err)
	}
	g.Set("")
	if err := p.Check(t.Context()); err == nil || err.Error() != "draining" {
		t.Fatalf("after Set(\"\") = %v", err)
	}
	g.Set("deploy")
	if err := p.Check(t.Context()); err == nil || err.Error() != "deploy" {
		t.Fatalf("after Set(deploy) = %v", err)
	}
}

func TestShutdownGate_Concurrent(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); g.Set("draining") }()
		go func() { defer wg.Done(); _ = p.Check(context.Background()) }()
	}
	wg.Wait()
	if p.Check(context.Background()) == nil {
		t.Fatal("gate should be closed")
	}
}

func TestHandlers(t *testing.T) {
	var g ShutdownGate
	mgr := &readier{err: errNoRevision}
	ready := All(g.Probe(), Ready(mgr))

	get := func(h http.Handler) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", nil))
		return rec
	}

	if rec := get(HealthzHandler(nil)); rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("healthz nil probe: %d %q", rec.Code, rec.Body.String())
	}

	rec := get(ReadyzHandler(ready))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), errNoRevision.Error()) {
		t.Fatalf("readyz before resolve: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("probe responses must not be cached")
	}

	mgr.err = nil
	if rec := get(ReadyzHandler(ready)); rec.Code != http.StatusOK || rec.Body.String() != "ready\n" {
		t.Fatalf("readyz after resolve: %d %q", rec.Code, rec.Body.String())
	}

	g.Set("shutting down")
	if rec := get(ReadyzHandler(ready)); rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "shutting down") {
		t.Fatalf("readyz while draining: %d %q", rec.Code, rec.Body.String())
	}
}
