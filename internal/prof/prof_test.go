package prof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/keithlinneman/compliance-web/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())

	// nonsense values are ignored when disabled
	stop, err := Start(ctx, Options{
		Enabled:              false,
		Tags:                 map[string]string{"k": "v"},
		ProfileMutexFraction: 999,
		BlockProfileRate:     999,
	})
	if err != nil {
		t.Fatalf("Start disabled: %v", err)
	}
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	stop()
	stop()
}

func TestStart_Enabled_EmptyServerAddress(t *testing.T) {
	stop, err := Start(context.Background(), Options{
		Enabled:  true,
		AppName:  "compliance-web",
		TenantID: "tenant",
	})
	if err == nil || !strings.Contains(err.Error(), "invalid server address") {
		t.Fatalf("err = %v, want invalid server address", err)
	}
	if stop == nil {
		t.Fatal("stop func should be non-nil even on error")
	}
	stop()
	stop()
}

func TestStart_Enabled_UnreachableServer(t *testing.T) {
	// pyroscope connects lazily in some versions, so only the contract is
	// checked: a non-nil stop func that never panics
	stop, _ := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://localhost:0/nonexistent",
		AppName:       "test",
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	stop()
}

func TestLabeled(t *testing.T) {
	var got string
	var reached bool
	h := Labeled("legacy")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		got, _ = pprof.Label(r.Context(), "handler")
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/legacy/index", http.NoBody))

	if !reached {
		t.Fatal("handler not called")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got != "legacy" {
		t.Fatalf("handler label = %q, want legacy", got)
	}
}
