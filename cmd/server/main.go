package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/compliance-web/internal/cfg"
	"github.com/keithlinneman/compliance-web/internal/content"
	"github.com/keithlinneman/compliance-web/internal/cryptoutil"
	"github.com/keithlinneman/compliance-web/internal/health"
	"github.com/keithlinneman/compliance-web/internal/httpmw"
	"github.com/keithlinneman/compliance-web/internal/httpserver"
	"github.com/keithlinneman/compliance-web/internal/legacy"
	"github.com/keithlinneman/compliance-web/internal/log"
	"github.com/keithlinneman/compliance-web/internal/metrics"
	"github.com/keithlinneman/compliance-web/internal/opshttp"
	"github.com/keithlinneman/compliance-web/internal/otelx"
	"github.com/keithlinneman/compliance-web/internal/prof"
	"github.com/keithlinneman/compliance-web/internal/ratelimit"
	"github.com/keithlinneman/compliance-web/internal/render"
	"github.com/keithlinneman/compliance-web/internal/sitehandler"
	v "github.com/keithlinneman/compliance-web/internal/version"
	"github.com/keithlinneman/compliance-web/internal/webassets"
	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

const (
	// legacy pages sanitize, rewrite and render, so they cost more than assets
	legacyPageTokens = 3

	drainPeriod     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	vi := v.Get()
	if showVersion {
		printVersion(vi)
		return
	}

	warnf := func(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, warnf)
	if err := cfg.Validate(conf); err != nil {
		warnf("config error: %v", err)
		os.Exit(1)
	}

	lg, err := newLogger(conf, vi)
	if err != nil {
		warnf("logger init error: %v", err)
		os.Exit(1)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, lg.With("component", "server"), conf, vi); err != nil {
		lg.Error(context.Background(), err, "server exited")
		lg.Sync()
		os.Exit(1)
	}
}

func printVersion(vi v.Info) {
	dirty := vi.VCSDirty != nil && *vi.VCSDirty
	fmt.Printf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
		v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion, dirty)
}

func newLogger(conf cfg.App, vi v.Info) (log.Logger, error) {
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, xerrors.Wrapf(err, "log level %q", conf.LogLevel)
	}
	// an unparsable stacktrace level follows the log level
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		stackLvl = lvl
	}
	return log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
}

// run wires the service and blocks until ctx is cancelled and the drain
// finishes. Deferred stops run in reverse, so listeners close before the
// mount registry and telemetry.
func run(ctx context.Context, L log.Logger, conf cfg.App, vi v.Info) error {
	ctx = log.WithContext(ctx, L)
	logStartup(ctx, L, conf, vi)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	stopTelemetry := startTelemetry(ctx, L, conf, vi, m)
	defer stopTelemetry()

	manifest, pipeline, err := newPipeline(L, conf, vi, m)
	if err != nil {
		return xerrors.Wrap(err, "render pipeline")
	}
	mounts := render.NewRegistry(ctx, pipeline, render.WithIdleTTL(conf.MountIdleTTL))
	defer mounts.Close()

	source, origin, err := newContentSource(ctx, L, conf)
	if err != nil {
		return xerrors.Wrap(err, "content source")
	}
	revisions := content.NewManager()
	publishRevision := func() {
		if r, ok := revisions.Get(); ok {
			m.SetContentRevision(r.ID, string(r.Origin), r.ResolvedAt)
		}
	}
	if rev, err := source.Revision(ctx); err != nil {
		// readiness stays failed and the watcher keeps trying
		L.Error(ctx, err, "initial content revision unavailable, serving maintenance page")
	} else {
		revisions.Set(content.Revision{ID: rev, Origin: origin})
		publishRevision()
		L.Info(ctx, "resolved content revision", "revision", rev, "origin", string(origin))
	}

	site, err := sitehandler.New(&sitehandler.Options{
		Logger:     L,
		Source:     source,
		Revisions:  revisions,
		Mounts:     mounts,
		FallbackFS: webassets.FallbackFS(),
		StaticFS:   webassets.StaticFS(),
		Metrics:    m,
		SiteName:   conf.SiteName,
	})
	if err != nil {
		return xerrors.Wrap(err, "site handler")
	}

	if conf.EnableContentUpdates {
		w := content.NewWatcher(&content.WatcherOptions{
			Logger:       L,
			Source:       source,
			Manager:      revisions,
			Refresher:    site,
			Origin:       origin,
			PollInterval: conf.ContentPollInterval,
			Metrics:      m,
			OnChange:     func(string) { publishRevision() },
		})
		go func() { _ = w.Run(ctx) }()
	}

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), health.Ready(revisions))

	stopSite, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  newLimiter(ctx, L, m).Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		ContentInfo:  revisions,
		CSP:          httpmw.BuildCSP(cspOptions(conf, manifest)),
		SiteHandler:  site,
		Routes: func(r chi.Router) {
			r.With(prof.Labeled("site")).Group(site.RegisterRoutes)
		},
	})
	if err != nil {
		return xerrors.Wrap(err, "site listener")
	}
	defer func() { _ = stopSite(context.Background()) }()

	// the admin listener also rejects public peers itself in case the
	// security group is ever opened up
	stopOps, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Mounts:       site.MountsHandler(),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		return xerrors.Wrap(err, "ops listener")
	}
	defer func() { _ = stopOps(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// systemd falls back to its start timeout
		L.Warn(ctx, "systemd readiness notify skipped", "error", err)
	}

	<-ctx.Done()
	drain(L, &gate)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for name, stop := range map[string]func(context.Context) error{"site": stopSite, "ops": stopOps} {
		if err := stop(sctx); err != nil {
			L.Error(sctx, err, "listener shutdown", "server", name)
		}
	}
	L.Info(sctx, "shutdown complete")
	return nil
}

func logStartup(ctx context.Context, L log.Logger, conf cfg.App, vi v.Info) {
	L.Info(ctx, "starting compliance-web",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"pprof", conf.EnablePprof,
		"pyroscope", conf.EnablePyroscope,
		"tracing", conf.EnableTracing,
		"content_updates", conf.EnableContentUpdates,
		"legacy_base_host", conf.LegacyBaseHost,
		"legacy_stylesheets", len(conf.Stylesheets()),
		"mount_idle_ttl", conf.MountIdleTTL.String(),
		"content_dir", conf.ContentDir,
		"content_ssm_param", conf.ContentSSMParam,
		"content_bucket", conf.ContentS3Bucket,
		"content_prefix", conf.ContentS3Prefix,
		"content_signing_key", conf.ContentSigningKeyARN,
	)
}

// startTelemetry starts continuous profiling and tracing. Failures are
// logged and the service runs without them.
func startTelemetry(ctx context.Context, L log.Logger, conf cfg.App, vi v.Info, m *metrics.ServerMetrics) func() {
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
		},
	})
	if err != nil {
		L.Error(ctx, err, "profiler not started", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)

	// the collector is a local sidecar, so plaintext grpc is fine
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "tracing not started", "endpoint", conf.OTLPEndpoint)
	}

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			L.Error(sctx, err, "otel shutdown")
		}
		stopProf()
	}
}

func newPipeline(L log.Logger, conf cfg.App, vi v.Info, m *metrics.ServerMetrics) (legacy.Manifest, *render.Pipeline, error) {
	resolver := legacy.NewResolver(conf.LegacyBaseHost)
	manifest := legacy.NewManifest(legacy.ManifestOptions{
		Stylesheets: conf.Stylesheets(),
		IconPath:    conf.LegacyIconPath,
		Resolver:    resolver,
	})
	p, err := render.NewPipeline(render.PipelineOptions{
		Sanitizer: legacy.NewSanitizer(),
		Rewriter:  legacy.NewRewriter(resolver),
		Manifest:  manifest,
		Loader:    render.NewHTTPLoader(render.HTTPLoaderOptions{UserAgent: vi.UserAgent("server")}),
		Logger:    L,
		Metrics:   m,
	})
	return manifest, p, err
}

// cspOptions admits every origin a rendered page loads from: the legacy
// base host, each stylesheet host and the configured extra asset origins.
func cspOptions(conf cfg.App, manifest legacy.Manifest) httpmw.CSPOptions {
	var origins []string
	if o := conf.LegacyOrigin(); o != "" {
		origins = append(origins, o)
	}
	origins = append(origins, manifest.StylesheetOrigins()...)
	origins = append(origins, conf.AssetOrigins()...)
	return httpmw.CSPOptions{
		LegacyOrigins: origins,
		StyleHashes:   []string{manifest.OverrideHash()},
	}
}

func newLimiter(ctx context.Context, L log.Logger, m *metrics.ServerMetrics) *ratelimit.IPLimiter {
	return ratelimit.New(ctx,
		ratelimit.WithCost(ratelimit.PageCost(legacyPageTokens)),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		// once per ip until its bucket is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limiter full, rejecting new visitors until buckets are evicted")
		}),
	)
}

// drain fails readiness so the load balancer stops routing here, then
// waits out the drain period. A second signal cuts the wait short.
func drain(L log.Logger, gate *health.ShutdownGate) {
	ctx := context.Background()
	gate.Set("draining")
	L.Info(ctx, "shutdown signal received, draining", "period", drainPeriod.String())

	again := make(chan os.Signal, 1)
	signal.Notify(again, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(again)

	t := time.NewTimer(drainPeriod)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(ctx, "drain period complete")
	case <-again:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// newContentSource picks the fragment source from config. A content dir
// wins over S3 so local development never touches AWS.
func newContentSource(ctx context.Context, L log.Logger, conf cfg.App) (content.Source, content.Origin, error) {
	if conf.ContentDir != "" {
		return content.NewDirSource(os.DirFS(conf.ContentDir)), content.OriginDisk, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, "", xerrors.Wrap(err, "load aws config")
	}

	var verifier content.SignatureVerifier
	if conf.ContentSigningKeyARN != "" {
		verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.ContentSigningKeyARN)
	}

	src, err := content.NewS3Source(ctx, content.S3Options{
		Logger:    L,
		SSMParam:  conf.ContentSSMParam,
		Bucket:    conf.ContentS3Bucket,
		Prefix:    conf.ContentS3Prefix,
		Verifier:  verifier,
		AWSConfig: &awsCfg,
	})
	if err != nil {
		return nil, "", err
	}
	return src, content.OriginS3, nil
}

// notifySystemd sends READY=1 when running under a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "dial notify socket")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "write notify socket")
	}
	return nil
}
