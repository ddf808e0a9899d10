package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/compliance-web/internal/health"
	"github.com/keithlinneman/compliance-web/internal/httpmw"
	"github.com/keithlinneman/compliance-web/internal/log"
)

// Options configures the public site server. Nil hooks are skipped.
type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe
	ContentInfo  httpmw.ContentInfo

	// CSP is the Content-Security-Policy header value; empty uses httpmw.DefaultCSP.
	CSP string

	// Routes registers legacy pages and static assets.
	Routes func(chi.Router)

	// SiteHandler renders the not-found and method-not-allowed pages.
	SiteHandler http.Handler
}
