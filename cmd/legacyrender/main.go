// Command legacyrender runs one legacy HTML fragment through the render
// pipeline and prints the revealed scope markup. It reads the file named as
// its only argument, or stdin when none is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/keithlinneman/compliance-web/internal/legacy"
	"github.com/keithlinneman/compliance-web/internal/log"
	"github.com/keithlinneman/compliance-web/internal/render"
	v "github.com/keithlinneman/compliance-web/internal/version"
	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

const maxInputBytes = 8 << 20

type options struct {
	base        string
	stylesheets string
	icon        string
	noFetch     bool
	markupOnly  bool
	timeout     time.Duration
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.base, "base", "https://legacy.compliance.example.com", "legacy origin relative references resolve against")
	flag.StringVar(&o.stylesheets, "stylesheets", "", "comma separated legacy stylesheet URLs")
	flag.StringVar(&o.icon, "icon", legacy.DefaultIconPath, "list bullet icon URL for the override sheet")
	flag.BoolVar(&o.noFetch, "no-fetch", false, "do not fetch stylesheets, reveal on the timeout")
	flag.BoolVar(&o.markupOnly, "markup", false, "print only the sanitized and rewritten fragment, without the scope")
	flag.DurationVar(&o.timeout, "timeout", render.DefaultRevealTimeout, "reveal timeout")
	flag.BoolVar(&o.verbose, "v", false, "log pipeline events to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [file]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, flag.Args(), os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "legacyrender:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	raw, err := readInput(args, stdin)
	if err != nil {
		return err
	}

	L := log.Nop()
	if o.verbose {
		L, err = log.New(log.Options{App: v.AppName, Version: v.Version, Writer: stderr})
		if err != nil {
			return xerrors.Wrap(err, "init logger")
		}
	}

	resolver := legacy.NewResolver(o.base)
	var sheets []string
	for _, s := range strings.Split(o.stylesheets, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sheets = append(sheets, s)
		}
	}

	var loader render.StylesheetLoader = render.NewHTTPLoader(render.HTTPLoaderOptions{
		UserAgent: v.Get().UserAgent("legacyrender"),
	})
	if o.noFetch {
		loader = neverSettle()
	}

	p, err := render.NewPipeline(render.PipelineOptions{
		Sanitizer: legacy.NewSanitizer(),
		Rewriter:  legacy.NewRewriter(resolver),
		Manifest: legacy.NewManifest(legacy.ManifestOptions{
			Stylesheets: sheets,
			IconPath:    o.icon,
			Resolver:    resolver,
		}),
		Loader:  loader,
		Timeout: o.timeout,
		Logger:  L,
	})
	if err != nil {
		return xerrors.Wrap(err, "create pipeline")
	}

	if o.markupOnly {
		_, err := io.WriteString(stdout, p.Markup(raw)+"\n")
		return err
	}

	m := p.NewMount("cli")
	defer m.Teardown()

	s := m.Render(ctx, raw)
	out, err := m.Revealed(ctx)
	if err != nil {
		return xerrors.Wrap(err, "wait for reveal")
	}
	if _, err := stdout.Write(append(out, '\n')); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "revealed: %s\n", s.RevealReason())
	return nil
}

func readInput(args []string, stdin io.Reader) (string, error) {
	var r io.Reader = stdin
	switch len(args) {
	case 0:
	case 1:
		f, err := os.Open(args[0])
		if err != nil {
			return "", xerrors.Wrap(err, "open input")
		}
		defer f.Close()
		r = f
	default:
		return "", xerrors.Newf("expected at most one input file, got %d", len(args))
	}
	b, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return "", xerrors.Wrap(err, "read input")
	}
	if len(b) > maxInputBytes {
		return "", xerrors.Newf("input exceeds %d bytes", maxInputBytes)
	}
	return string(b), nil
}

// neverSettle starts no loads, so reveal always comes from the timeout.
func neverSettle() render.StylesheetLoader {
	return render.LoaderFunc(func(context.Context, string, func(error)) func() {
		return func() {}
	})
}
