package httpmw

import (
	"net/http"
	"slices"
	"strings"
)

// Security note: CSRF protection is not implemented because it is not applicable.
// This site is stateless (no cookies, no sessions, no authentication) and read-only (GET only).

// CSPOptions describes the origins a page may load from besides itself.
type CSPOptions struct {
	// LegacyOrigins are scheme://host origins legacy fragments reference
	// (the legacy base host, stylesheet hosts and extra asset hosts).
	// Blanks and repeats are dropped.
	LegacyOrigins []string

	// StyleHashes are CSP hash sources ("sha256-...") for inline <style>
	// blocks the server injects.
	StyleHashes []string
}

// BuildCSP renders a Content-Security-Policy header value. Scripts stay
// same-origin only; legacy origins are admitted for styles, images, media
// and fonts because rewritten fragments reference them directly.
func BuildCSP(o CSPOptions) string {
	var uniq []string
	for _, origin := range o.LegacyOrigins {
		if origin = strings.TrimSpace(origin); origin != "" && !slices.Contains(uniq, origin) {
			uniq = append(uniq, origin)
		}
	}
	origins := strings.Join(uniq, " ")
	with := func(base string) string {
		if origins == "" {
			return base
		}
		return base + " " + origins
	}

	style := with("'self'")
	for _, h := range o.StyleHashes {
		if h != "" {
			style += " '" + h + "'"
		}
	}

	directives := []string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src " + style,
		"img-src " + with("'self' data:"),
		"media-src " + with("'self'"),
		"font-src " + with("'self'"),
		"frame-src " + with("'self'"),
		"base-uri 'self'",
		"form-action 'self'",
		"frame-ancestors 'none'",
		"object-src 'none'",
		"upgrade-insecure-requests",
	}
	return strings.Join(directives, "; ")
}

// DefaultCSP is the policy for pages with no legacy content.
var DefaultCSP = BuildCSP(CSPOptions{})

// SecurityHeaders is middleware that adds common security headers to HTTP
// responses using the given Content-Security-Policy value. An empty csp
// falls back to DefaultCSP.
func SecurityHeaders(csp string) func(http.Handler) http.Handler {
	if csp == "" {
		csp = DefaultCSP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Require HTTPS for one year, including subdomains, and allow preload
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")

			w.Header().Set("Content-Security-Policy", csp)

			// Disable MIME type sniffing for integrity/security
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Old Clickjacking protection - dont allow embedding in frames
			w.Header().Set("X-Frame-Options", "DENY")

			// Referrer policy to control information sent in Referer header
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// Permissions policy to disable various powerful (in)security features
			w.Header().Set("Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()")

			// Prevent Adobe Flash and Acrobat from loading content
			w.Header().Set("X-Permitted-Cross-Domain-Policies", "none")

			// Legacy images and stylesheets come from a host that does not send
			// CORP headers, so require-corp would block them.
			w.Header().Set("Cross-Origin-Embedder-Policy", "unsafe-none")

			// Cross-Origin-Opener-Policy to isolate browsing context
			w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

			// Cross-Origin-Resource-Policy to restrict resource.. "sharing"
			w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")

			next.ServeHTTP(w, r)
		})
	}
}
