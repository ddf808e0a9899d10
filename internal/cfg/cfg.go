package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/compliance-web/internal/legacy"
	"github.com/keithlinneman/compliance-web/internal/log"
)

// EnvPrefix is prepended to flag names to form environment variable keys.
const EnvPrefix = "CWEB_"

type App struct {
	LogJSON              bool
	LogLevel             string
	HTTPPort             int
	AdminPort            int
	EnablePprof          bool
	EnablePyroscope      bool
	EnableTracing        bool
	EnableContentUpdates bool
	PyroServer           string
	PyroTenantID         string
	OTLPEndpoint         string
	TraceSample          float64
	StacktraceLevel      string
	IncludeErrorLinks    bool
	MaxErrorLinks        int

	SiteName           string
	LegacyBaseHost     string
	LegacyStylesheets  string
	LegacyIconPath     string
	LegacyAssetOrigins string
	MountIdleTTL       time.Duration

	ContentDir           string
	ContentSSMParam      string
	ContentS3Bucket      string
	ContentS3Prefix      string
	ContentSigningKeyARN string
	ContentPollInterval  time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.EnableContentUpdates, "enable-content-updates", true, "Poll the content revision and re-render live pages when it changes")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.SiteName, "site-name", "Compliance", "site name shown in the page shell")
	fs.StringVar(&c.LegacyBaseHost, "legacy-base-host", "https://legacy.compliance.example.com", "origin of the legacy CMS, relative asset references resolve against it")
	fs.StringVar(&c.LegacyStylesheets, "legacy-stylesheets", "", "comma separated legacy stylesheet URLs (relative to legacy-base-host or absolute)")
	fs.StringVar(&c.LegacyAssetOrigins, "legacy-asset-origins", "", "comma separated extra origins legacy fragments load images, media or frames from (https://cdn.example.com)")
	fs.StringVar(&c.LegacyIconPath, "legacy-icon-path", legacy.DefaultIconPath, "list bullet icon URL used by the override stylesheet")
	fs.DurationVar(&c.MountIdleTTL, "mount-idle-ttl", 30*time.Minute, "tear down render mounts unused for this long (0 disables)")

	fs.StringVar(&c.ContentDir, "content-dir", "", "serve fragments from this local directory instead of S3 (development)")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "/app/compliance-web/server/content/stable/revision", "ssm parameter name holding the content revision")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "compliance-web-content", "s3 bucket name holding legacy fragments")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "legacy/fragments", "s3 prefix (key) below which revisions are stored")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key ARN for fragment signature verification (empty disables)")
	fs.DurationVar(&c.ContentPollInterval, "content-poll-interval", 30*time.Second, "how often to poll the content revision")
}

// Stylesheets returns the configured legacy stylesheet list, trimmed, with
// blank entries dropped.
func (c App) Stylesheets() []string {
	var out []string
	for _, s := range strings.Split(c.LegacyStylesheets, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AssetOrigins returns the scheme://host form of every extra asset origin.
// Entries that are not http(s) URLs are dropped; Validate reports them.
func (c App) AssetOrigins() []string {
	var out []string
	for _, s := range strings.Split(c.LegacyAssetOrigins, ",") {
		if o := legacy.Origin(s); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LegacyOrigin returns scheme://host of the legacy base, or "" when unset.
func (c App) LegacyOrigin() string {
	if !isAbsURL(c.LegacyBaseHost) {
		return ""
	}
	u, _ := url.Parse(c.LegacyBaseHost)
	return u.Scheme + "://" + u.Host
}

// EnvKey maps a flag name to its environment variable: "foo-bar" with
// prefix "P_" becomes "P_FOO_BAR".
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// FillFromEnv sets flags from the environment. A flag given on the command
// line wins over its env var, which wins over the default. Invalid env
// values leave the flag untouched and are reported through logf.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	onCLI := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { onCLI[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		switch {
		case !ok:
		case onCLI[f.Name]:
			logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, val)
		default:
			before := f.Value.String()
			if err := fs.Set(f.Name, val); err != nil {
				_ = f.Value.Set(before)
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, val, err)
			}
		}
	})
}

// problems collects validation failures.
type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

// Validate reports every out of range or malformed setting in c, joined
// into one error. It returns nil when c is usable.
func Validate(c App) error {
	var p problems
	c.checkListeners(&p)
	c.checkTelemetry(&p)
	c.checkLegacy(&p)
	c.checkContent(&p)
	return errors.Join(p...)
}

func validPort(n int) bool { return n >= 1 && n <= 65535 }

func (c App) checkListeners(p *problems) {
	if !validPort(c.HTTPPort) {
		p.addf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if !validPort(c.AdminPort) {
		p.addf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.HTTPPort == c.AdminPort {
		p.addf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
}

func (c App) checkTelemetry(p *problems) {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		p.addf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			p.addf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		p.addf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		p.addf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}

	if c.EnablePyroscope {
		switch {
		case c.PyroServer == "":
			p.addf("PYRO_SERVER required when ENABLE_PYROSCOPE=true")
		case !isAbsURL(c.PyroServer):
			p.addf("PYRO_SERVER must be a URL (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			p.addf("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}

	// the grpc exporter dials host:port, a scheme is an error
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			p.addf("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			p.addf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
}

func (c App) checkLegacy(p *problems) {
	if u, err := url.Parse(c.LegacyBaseHost); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		p.addf("LEGACY_BASE_HOST must be an http(s) URL (got %q)", c.LegacyBaseHost)
	}
	for _, sheet := range c.Stylesheets() {
		if _, err := url.Parse(sheet); err != nil || !legacy.SafeCSSURL(sheet) {
			p.addf("invalid LEGACY_STYLESHEETS entry %q", sheet)
		}
	}
	for _, o := range strings.Split(c.LegacyAssetOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" && legacy.Origin(o) == "" {
			p.addf("invalid LEGACY_ASSET_ORIGINS entry %q (want an http(s) origin)", o)
		}
	}
	if c.LegacyIconPath != "" && !legacy.SafeCSSURL(c.LegacyIconPath) {
		p.addf("invalid LEGACY_ICON_PATH %q", c.LegacyIconPath)
	}
	if c.MountIdleTTL < 0 || (c.MountIdleTTL > 0 && c.MountIdleTTL < time.Second) {
		p.addf("MOUNT_IDLE_TTL must be 0 (disabled) or at least 1s (got %s)", c.MountIdleTTL)
	}
}

// checkContent accepts either a local content dir or the full SSM + S3
// triple.
func (c App) checkContent(p *problems) {
	if c.ContentDir != "" {
		if fi, err := os.Stat(c.ContentDir); err != nil || !fi.IsDir() {
			p.addf("CONTENT_DIR %q is not a directory", c.ContentDir)
		}
	} else {
		for _, req := range []struct{ name, val string }{
			{"CONTENT_SSM_PARAM", c.ContentSSMParam},
			{"CONTENT_S3_BUCKET", c.ContentS3Bucket},
			{"CONTENT_S3_PREFIX", c.ContentS3Prefix},
		} {
			if req.val == "" {
				p.addf("%s is required", req.name)
			}
		}
	}
	if c.EnableContentUpdates && c.ContentPollInterval < time.Second {
		p.addf("CONTENT_POLL_INTERVAL must be at least 1s (got %s)", c.ContentPollInterval)
	}
}

func isAbsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
