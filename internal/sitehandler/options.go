package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/keithlinneman/compliance-web/internal/content"
	"github.com/keithlinneman/compliance-web/internal/log"
	"github.com/keithlinneman/compliance-web/internal/render"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// RevisionProvider reports the content revision currently being served.
type RevisionProvider interface {
	Get() (*content.Revision, bool)
}

// FetchMetrics is implemented by the metrics package.
type FetchMetrics interface {
	ObserveFragmentFetch(outcome string, d time.Duration)
}

type Options struct {
	Logger log.Logger

	// Source provides legacy fragments, Revisions the revision to read them at.
	Source    content.Source
	Revisions RevisionProvider

	// Mounts owns one render mount per slug.
	Mounts *render.Registry

	// FallbackFS holds the maintenance and 404 pages, StaticFS is served
	// under /static/.
	FallbackFS fs.FS
	StaticFS   fs.FS

	Metrics FetchMetrics

	MaintenanceFile string // default: "maintenance.html"
	NotFoundFile    string // default: "404.html"

	// SiteName is shown in the page shell header and title.
	SiteName string // default: "Compliance"

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=86400"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaintenanceFile == "" {
		o.MaintenanceFile = "maintenance.html"
	}
	if o.NotFoundFile == "" {
		o.NotFoundFile = "404.html"
	}
	if o.SiteName == "" {
		o.SiteName = "Compliance"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		// static assets are not content-hashed, keep the max-age short
		o.AssetCacheControl = "public, max-age=86400"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
}

func (o *Options) validate() error {
	var errs []error
	if o.Source == nil {
		errs = append(errs, fmt.Errorf("%w: Source is nil", ErrInvalidOptions))
	}
	if o.Revisions == nil {
		errs = append(errs, fmt.Errorf("%w: Revisions is nil", ErrInvalidOptions))
	}
	if o.Mounts == nil {
		errs = append(errs, fmt.Errorf("%w: Mounts is nil", ErrInvalidOptions))
	}
	if o.FallbackFS == nil {
		errs = append(errs, fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions))
	} else if _, err := fs.Stat(o.FallbackFS, o.MaintenanceFile); err != nil {
		// fail fast on boot if mispackaged
		errs = append(errs, fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, o.MaintenanceFile, err))
	}
	return errors.Join(errs...)
}

type nopMetrics struct{}

func (nopMetrics) ObserveFragmentFetch(string, time.Duration) {}
