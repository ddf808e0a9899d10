package main

import (
	"flag"
	"strings"
	"testing"

	"github.com/keithlinneman/compliance-web/internal/cfg"
	"github.com/keithlinneman/compliance-web/internal/httpmw"
	"github.com/keithlinneman/compliance-web/internal/legacy"
)

func parseConf(t *testing.T, args ...string) cfg.App {
	t.Helper()
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var c cfg.App
	cfg.Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return c
}

func directive(csp, name string) string {
	for d := range strings.SplitSeq(csp, ";") {
		if d = strings.TrimSpace(d); strings.HasPrefix(d, name+" ") {
			return d
		}
	}
	return ""
}

func TestCSPOptions_AdmitsEveryLoadedOrigin(t *testing.T) {
	conf := parseConf(t,
		"-legacy-base-host=https://legacy.example.com",
		"-legacy-stylesheets=/themes/main.css,https://cdn.example.net/legacy.css,//fonts.example.org/f.css",
		"-legacy-asset-origins=https://img.example.com",
	)
	manifest := legacy.NewManifest(legacy.ManifestOptions{
		Stylesheets: conf.Stylesheets(),
		Resolver:    legacy.NewResolver(conf.LegacyBaseHost),
	})
	csp := httpmw.BuildCSP(cspOptions(conf, manifest))

	style := directive(csp, "style-src")
	for _, want := range []string{
		"https://legacy.example.com",
		"https://cdn.example.net",
		"https://fonts.example.org",
		"'" + manifest.OverrideHash() + "'",
	} {
		if !strings.Contains(style, want) {
			t.Errorf("style-src %q missing %s", style, want)
		}
	}
	if strings.Count(style, "https://legacy.example.com") != 1 {
		t.Errorf("legacy origin repeated: %q", style)
	}
	for _, name := range []string{"img-src", "frame-src", "media-src"} {
		if d := directive(csp, name); !strings.Contains(d, "https://img.example.com") {
			t.Errorf("%s %q missing the extra asset origin", name, d)
		}
	}
}

func TestCSPOptions_NoExtraOrigins(t *testing.T) {
	conf := parseConf(t, "-legacy-base-host=https://legacy.example.com")
	manifest := legacy.NewManifest(legacy.ManifestOptions{Resolver: legacy.NewResolver(conf.LegacyBaseHost)})
	opts := cspOptions(conf, manifest)
	if len(opts.LegacyOrigins) != 1 || opts.LegacyOrigins[0] != "https://legacy.example.com" {
		t.Fatalf("LegacyOrigins = %q", opts.LegacyOrigins)
	}
}
