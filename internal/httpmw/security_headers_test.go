package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveSecurity(t *testing.T, csp string) *httptest.ResponseRecorder {
	t.Helper()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	SecurityHeaders(csp)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	return rec
}

func TestSecurityHeaders_AllPresent(t *testing.T) {
	rec := serveSecurity(t, "")

	required := map[string]string{
		"Strict-Transport-Security":         "max-age=31536000; includeSubDomains; preload",
		"X-Content-Type-Options":            "nosniff",
		"X-Frame-Options":                   "DENY",
		"Referrer-Policy":                   "strict-origin-when-cross-origin",
		"X-Permitted-Cross-Domain-Policies": "none",
		"Cross-Origin-Embedder-Policy":      "unsafe-none",
		"Cross-Origin-Opener-Policy":        "same-origin",
		"Cross-Origin-Resource-Policy":      "same-origin",
		"Content-Security-Policy":           DefaultCSP,
	}
	for header, want := range required {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Permissions-Policy") == "" {
		t.Error("Permissions-Policy missing")
	}
}

func TestSecurityHeaders_CustomCSP(t *testing.T) {
	rec := serveSecurity(t, "default-src 'none'")
	if got := rec.Header().Get("Content-Security-Policy"); got != "default-src 'none'" {
		t.Fatalf("CSP = %q", got)
	}
}

func TestBuildCSP(t *testing.T) {
	tests := []struct {
		name    string
		opts    CSPOptions
		want    []string
		wantNot []string
	}{
		{
			name: "default",
			want: []string{
				"default-src 'self'",
				"script-src 'self'",
				"style-src 'self';",
				"img-src 'self' data:;",
				"frame-ancestors 'none'",
				"object-src 'none'",
			},
			wantNot: []string{"'unsafe-inline'", "sha256-"},
		},
		{
			name: "legacy origin and override hash",
			opts: CSPOptions{
				LegacyOrigins: []string{"https://legacy.example.com"},
				StyleHashes:   []string{"sha256-abc=", ""},
			},
			want: []string{
				"style-src 'self' https://legacy.example.com 'sha256-abc='",
				"img-src 'self' data: https://legacy.example.com",
				"frame-src 'self' https://legacy.example.com",
				"script-src 'self';",
			},
			wantNot: []string{"'unsafe-inline'", "''"},
		},
		{
			name: "stylesheet cdn and repeated origins",
			opts: CSPOptions{
				LegacyOrigins: []string{"https://legacy.example.com", "https://cdn.example.net", " ", "https://legacy.example.com"},
			},
			want: []string{
				"style-src 'self' https://legacy.example.com https://cdn.example.net;",
				"img-src 'self' data: https://legacy.example.com https://cdn.example.net;",
			},
			wantNot: []string{"https://legacy.example.com https://legacy.example.com", "  "},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			csp := BuildCSP(tt.opts)
			for _, w := range tt.want {
				if !strings.Contains(csp, w) {
					t.Errorf("CSP missing %q\n%s", w, csp)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(csp, w) {
					t.Errorf("CSP contains %q\n%s", w, csp)
				}
			}
		})
	}
}
