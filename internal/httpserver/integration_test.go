package httpserver_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/keithlinneman/compliance-web/internal/content"
	"github.com/keithlinneman/compliance-web/internal/httpmw"
	"github.com/keithlinneman/compliance-web/internal/httpserver"
	"github.com/keithlinneman/compliance-web/internal/legacy"
	"github.com/keithlinneman/compliance-web/internal/log"
	"github.com/keithlinneman/compliance-web/internal/render"
	"github.com/keithlinneman/compliance-web/internal/sitehandler"
	"github.com/keithlinneman/compliance-web/internal/webassets"
)

// TestIntegration_FullStack wires httpserver.NewHandler to a real
// sitehandler.Handler and render pipeline backed by an in-memory content
// directory, then checks headers, status codes and rendered pages end to end.
func TestIntegration_FullStack(t *testing.T) {
	t.Parallel()

	files := fstest.MapFS{
		"index.html":          {Data: []byte(`<h1>Hello World</h1><a href="/old/page.asp">old</a>`)},
		"policies/about.html": {Data: []byte(`<p>About</p>`)},
	}
	src := content.NewDirSource(files)
	rev, err := src.Revision(t.Context())
	if err != nil {
		t.Fatalf("Revision: %v", err)
	}
	mgr := content.NewManager()
	mgr.Set(content.Revision{ID: rev, Origin: content.OriginDisk})

	resolver := legacy.NewResolver("https://legacy.example.com")
	manifest := legacy.NewManifest(legacy.ManifestOptions{Resolver: resolver})
	pipeline, err := render.NewPipeline(render.PipelineOptions{
		Sanitizer: legacy.NewSanitizer(),
		Rewriter:  legacy.NewRewriter(resolver),
		Manifest:  manifest,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	mounts := render.NewRegistry(t.Context(), pipeline)
	t.Cleanup(mounts.Close)

	siteH, err := sitehandler.New(&sitehandler.Options{
		Logger:     log.Nop(),
		Source:     src,
		Revisions:  mgr,
		Mounts:     mounts,
		FallbackFS: webassets.FallbackFS(),
		StaticFS:   webassets.StaticFS(),
	})
	if err != nil {
		t.Fatalf("sitehandler.New: %v", err)
	}

	csp := httpmw.BuildCSP(httpmw.CSPOptions{
		LegacyOrigins: []string{"https://legacy.example.com"},
		StyleHashes:   []string{manifest.OverrideHash()},
	})
	handler := httpserver.NewHandler(httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		Routes:       siteH.RegisterRoutes,
		SiteHandler:  siteH,
		ContentInfo:  mgr,
		CSP:          csp,
	})

	t.Run("serves legacy page with security headers", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/legacy/index", http.NoBody))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body, _ := io.ReadAll(rec.Body)
		for _, want := range []string{"Hello World", `href="https://legacy.example.com/old/page.asp"`, `shadowrootmode="open"`} {
			if !strings.Contains(string(body), want) {
				t.Errorf("body missing %q", want)
			}
		}

		for _, hdr := range []string{
			"Strict-Transport-Security",
			"X-Content-Type-Options",
			"X-Frame-Options",
			"Referrer-Policy",
			"Cross-Origin-Opener-Policy",
			"Permissions-Policy",
		} {
			if rec.Header().Get(hdr) == "" {
				t.Errorf("missing security header: %s", hdr)
			}
		}
		if got := rec.Header().Get("Content-Security-Policy"); got != csp {
			t.Errorf("CSP = %q, want %q", got, csp)
		}
		if !strings.Contains(csp, "'"+manifest.OverrideHash()+"'") {
			t.Errorf("CSP does not admit override stylesheet: %s", csp)
		}
		if got := rec.Header().Get("X-Content-Revision"); got != rev {
			t.Errorf("X-Content-Revision = %q, want %q", got, rev)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Error("X-Request-Id not set")
		}
	})

	requests := []struct {
		name     string
		method   string
		target   string
		wantCode int
		wantBody string
	}{
		{"nested slug", http.MethodGet, "/legacy/policies/about", http.StatusOK, "About"},
		{"override icon", http.MethodGet, legacy.DefaultIconPath, http.StatusOK, "<svg"},
		{"missing page", http.MethodGet, "/legacy/does-not-exist", http.StatusNotFound, ""},
		{"bad slug", http.MethodGet, "/legacy/Policies", http.StatusNotFound, ""},
		{"post", http.MethodPost, "/legacy/index", http.StatusMethodNotAllowed, ""},
		{"head", http.MethodHead, "/legacy/index", http.StatusOK, ""},
	}
	for _, tt := range requests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, http.NoBody))
			if rec.Code != tt.wantCode {
				t.Fatalf("%s %s: status = %d, want %d", tt.method, tt.target, rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %.80q, want %q", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get("Strict-Transport-Security") == "" {
				t.Error("HSTS missing")
			}
		})
	}
}
