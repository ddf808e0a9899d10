package sitehandler

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/compliance-web/internal/content"
	"github.com/keithlinneman/compliance-web/internal/log"
	"github.com/keithlinneman/compliance-web/internal/render"
)

// LegacyPrefix is where legacy pages are served.
const LegacyPrefix = "/legacy/"

type Handler struct {
	opts Options
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: *opts}, nil
}

// RegisterRoutes mounts legacy pages and static assets on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/legacy/*", h.serveLegacy)
	r.Head("/legacy/*", h.serveLegacy)
	r.Get("/static/*", h.serveStatic)
	r.Head("/static/*", h.serveStatic)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, LegacyPrefix+"index", http.StatusFound)
	})
}

// ServeHTTP answers anything no route matched: 405 for methods other than
// GET and HEAD, otherwise the not found page.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.serveNotFound(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveLegacy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	slug, ok := legacySlug(chi.URLParam(r, "*"))
	if !ok {
		h.serveNotFound(w, r)
		return
	}

	rev, ok := h.opts.Revisions.Get()
	if !ok {
		h.serveMaintenance(w, r)
		return
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("legacy.slug", slug),
		attribute.String("content.revision", rev.ID),
	)

	// a mount can be torn down (idle eviction, fragment removed) between
	// acquiring it and waiting on it; one retry picks up a fresh mount
	var markup []byte
	for attempt := 0; ; attempt++ {
		m, err := h.mountFor(ctx, rev.ID, slug)
		if errors.Is(err, content.ErrNotFound) {
			h.serveNotFound(w, r)
			return
		}
		if err != nil {
			L.Error(ctx, err, "legacy fragment fetch failed", "legacy.slug", slug)
			h.serveMaintenance(w, r)
			return
		}

		markup, err = m.Revealed(ctx)
		if err == nil {
			if s := m.Live(); s != nil {
				span.SetAttributes(attribute.String("legacy.reveal_reason", string(s.RevealReason())))
			}
			break
		}
		if ctx.Err() != nil {
			return
		}
		if attempt == 0 && (errors.Is(err, render.ErrTornDown) || errors.Is(err, render.ErrNoContent)) {
			continue
		}
		L.Error(ctx, err, "legacy render failed", "legacy.slug", slug)
		h.serveMaintenance(w, r)
		return
	}

	w.Header().Set("Cache-Control", h.opts.HTMLCacheControl)
	page := legacyPage(pageData{
		SiteName: h.opts.SiteName,
		Title:    titleFromSlug(slug),
		Slug:     slug,
		Revision: rev.ID,
		Mount:    markup,
	})
	templ.Handler(page).ServeHTTP(w, r)
}

// mountFor returns the mount for slug, rendering the fragment at revision
// when the mount has nothing live yet.
func (h *Handler) mountFor(ctx context.Context, revision, slug string) (*render.Mount, error) {
	if m, ok := h.opts.Mounts.Lookup(slug); ok && m.Live() != nil {
		return m, nil
	}
	frag, err := h.fetch(ctx, revision, slug)
	if err != nil {
		return nil, err
	}
	m := h.opts.Mounts.Mount(slug)
	m.Render(ctx, frag.HTML)
	return m, nil
}

func (h *Handler) fetch(ctx context.Context, revision, slug string) (*content.Fragment, error) {
	start := time.Now()
	frag, err := h.opts.Source.Fetch(ctx, revision, slug)
	outcome := "ok"
	switch {
	case errors.Is(err, content.ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	h.opts.Metrics.ObserveFragmentFetch(outcome, time.Since(start))
	return frag, err
}

func (h *Handler) serveStatic(w http.ResponseWriter, r *http.Request) {
	name, ok := resolveAsset(chi.URLParam(r, "*"), h.opts.StaticFS)
	if !ok {
		h.serveNotFound(w, r)
		return
	}
	if cc := cacheControlForFile(name, &h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	http.ServeFileFS(w, r, h.opts.StaticFS, name)
}

// serveMaintenance answers 503 with the maintenance page. Clients retry
// after a minute; nothing caches it.
func (h *Handler) serveMaintenance(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("Retry-After", "60")
	serveFallback(w, r, http.StatusServiceUnavailable, h.opts.FallbackFS, h.opts.MaintenanceFile)
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if !existsFile(h.opts.FallbackFS, h.opts.NotFoundFile) {
		http.Error(w, "404 page not found", http.StatusNotFound)
		return
	}
	serveFallback(w, r, http.StatusNotFound, h.opts.FallbackFS, h.opts.NotFoundFile)
}

// serveFallback writes the fallback page name with status code. The page is
// read directly so nothing from the request (path, conditional or range
// headers) changes what is served.
func serveFallback(w http.ResponseWriter, r *http.Request, code int, fsys fs.FS, name string) {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "fallback page unreadable", "file", name)
		http.Error(w, http.StatusText(code), code)
		return
	}
	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "text/html; charset=utf-8"
	}
	hdr := w.Header()
	hdr.Set("Content-Type", ctype)
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
