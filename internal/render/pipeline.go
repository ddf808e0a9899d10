package render

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/keithlinneman/compliance-web/internal/legacy"
	"github.com/keithlinneman/compliance-web/internal/log"
)

// DefaultRevealTimeout bounds how long content stays hidden while
// stylesheets load.
const DefaultRevealTimeout = 1200 * time.Millisecond

// Metrics receives render lifecycle events. All methods must be safe for
// concurrent use.
type Metrics interface {
	IncRenderSessions()
	IncRenderSuperseded()
	ObserveReveal(reason string, d time.Duration)
	IncStylesheetSettled(outcome string)
	SetLiveMounts(n int)
}

type nopMetrics struct{}

func (nopMetrics) IncRenderSessions()                  {}
func (nopMetrics) IncRenderSuperseded()                {}
func (nopMetrics) ObserveReveal(string, time.Duration) {}
func (nopMetrics) IncStylesheetSettled(string)         {}
func (nopMetrics) SetLiveMounts(int)                   {}

type PipelineOptions struct {
	Sanitizer *legacy.Sanitizer
	Rewriter  *legacy.Rewriter
	Manifest  legacy.Manifest
	Loader    StylesheetLoader
	// Timeout defaults to DefaultRevealTimeout.
	Timeout time.Duration
	Logger  log.Logger
	Metrics Metrics
}

func (o *PipelineOptions) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultRevealTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
}

func (o *PipelineOptions) validate() error {
	var errs []error
	if o.Sanitizer == nil {
		errs = append(errs, errors.New("sanitizer is required"))
	}
	if o.Rewriter == nil {
		errs = append(errs, errors.New("rewriter is required"))
	}
	if o.Loader == nil && len(o.Manifest.Stylesheets()) > 0 {
		errs = append(errs, errors.New("stylesheet loader is required when stylesheets are configured"))
	}
	return errors.Join(errs...)
}

// Pipeline holds the immutable configuration shared by every mount.
type Pipeline struct {
	sanitizer *legacy.Sanitizer
	rewriter  *legacy.Rewriter
	manifest  legacy.Manifest
	sheets    []string
	loader    StylesheetLoader
	timeout   time.Duration
	logger    log.Logger
	metrics   Metrics
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		sanitizer: opts.Sanitizer,
		rewriter:  opts.Rewriter,
		manifest:  opts.Manifest,
		sheets:    opts.Manifest.Stylesheets(),
		loader:    opts.Loader,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

func (p *Pipeline) Manifest() legacy.Manifest { return p.manifest }

func (p *Pipeline) Timeout() time.Duration { return p.timeout }

// prepare sanitizes and rewrites raw into detached nodes. Blank input
// yields no nodes.
func (p *Pipeline) prepare(raw string) []*html.Node {
	clean := p.sanitizer.Sanitize(raw)
	if strings.TrimSpace(clean) == "" {
		return nil
	}
	nodes := legacy.ParseFragment(clean)
	p.rewriter.RewriteNodes(nodes)
	return nodes
}

// Markup returns the sanitized and rewritten form of raw. Identical input
// always yields identical output.
func (p *Pipeline) Markup(raw string) string {
	var b strings.Builder
	for _, n := range p.prepare(raw) {
		if err := html.Render(&b, n); err != nil {
			return ""
		}
	}
	return b.String()
}

// NewMount returns a mount point with an empty scope and no session.
func (p *Pipeline) NewMount(name string) *Mount {
	return &Mount{
		name:     name,
		p:        p,
		scope:    newScope(name),
		lastUsed: time.Now(),
	}
}
