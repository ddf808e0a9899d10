package render

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

// StylesheetLoader starts loading one external stylesheet.
//
// settled is called at most once, with nil on load or the failure on error,
// and never from inside Load itself. detach must not block. Once detach
// returns no new settled call starts; a call that began before detach may
// still be running, so the receiver must ignore a late one.
type StylesheetLoader interface {
	Load(ctx context.Context, url string, settled func(err error)) (detach func())
}

// LoaderFunc adapts a function to StylesheetLoader.
type LoaderFunc func(ctx context.Context, url string, settled func(err error)) func()

func (f LoaderFunc) Load(ctx context.Context, url string, settled func(err error)) func() {
	return f(ctx, url, settled)
}

const (
	defaultLoadTimeout = 10 * time.Second
	maxStylesheetBytes = 1 << 20
)

type HTTPLoaderOptions struct {
	// Client defaults to an http.Client with an otelhttp transport.
	Client *http.Client
	// Timeout bounds one fetch. Defaults to 10s.
	Timeout   time.Duration
	UserAgent string
}

// HTTPLoader settles a stylesheet by fetching it. Any response, including a
// non-2xx status, settles the load; only the error passed to settled
// differs.
type HTTPLoader struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

func NewHTTPLoader(opts HTTPLoaderOptions) *HTTPLoader {
	c := opts.Client
	if c == nil {
		c = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	t := opts.Timeout
	if t <= 0 {
		t = defaultLoadTimeout
	}
	return &HTTPLoader{client: c, timeout: t, userAgent: opts.UserAgent}
}

func (l *HTTPLoader) Load(ctx context.Context, url string, settled func(err error)) func() {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	// pending -> settling or pending -> detached, whichever happens first
	var state atomic.Int32

	go func() {
		defer cancel()
		err := l.fetch(ctx, url)
		if state.CompareAndSwap(loadPending, loadSettling) {
			settled(err)
		}
	}()

	return func() {
		state.CompareAndSwap(loadPending, loadDetached)
		cancel()
	}
}

const (
	loadPending int32 = iota
	loadSettling
	loadDetached
)

func (l *HTTPLoader) fetch(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return xerrors.Wrap(err, "build stylesheet request")
	}
	req.Header.Set("Accept", "text/css,*/*;q=0.1")
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return xerrors.Wrap(err, "fetch stylesheet")
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxStylesheetBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return xerrors.Newf("stylesheet %s: status %d", url, resp.StatusCode)
	}
	return nil
}
