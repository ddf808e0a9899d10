package sitehandler

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type pageData struct {
	SiteName string
	Title    string
	Slug     string
	Revision string
	// Mount is the rendered legacy host element. It is sanitized and
	// rewritten server side and embedded verbatim.
	Mount []byte
}

// layout is the page shell shared by every legacy page.
func layout(d pageData, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := d.SiteName
		if d.Title != "" {
			title = d.Title + " | " + d.SiteName
		}
		if _, err := io.WriteString(w, `<!doctype html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<title>`+templ.EscapeString(title)+`</title>`+
			`<link rel="stylesheet" href="/static/site.css"></head><body><main class="page">`+
			`<header><a href="/">`+templ.EscapeString(d.SiteName)+`</a></header>`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		footer := `</main></body></html>`
		if d.Revision != "" {
			footer = `<footer>Revision ` + templ.EscapeString(d.Revision) + `</footer>` + footer
		}
		_, err := io.WriteString(w, footer)
		return err
	})
}

func legacyArticle(d pageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<article data-slug="`+templ.EscapeString(d.Slug)+`">`); err != nil {
			return err
		}
		if err := templ.Raw(string(d.Mount)).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</article>`)
		return err
	})
}

func legacyPage(d pageData) templ.Component {
	return layout(d, legacyArticle(d))
}

// titleFromSlug turns "policies/data-retention" into "Data Retention".
func titleFromSlug(slug string) string {
	last := slug
	if i := strings.LastIndexByte(slug, '/'); i >= 0 {
		last = slug[i+1:]
	}
	words := strings.FieldsFunc(last, func(r rune) bool { return r == '-' || r == '_' })
	// a Caser is not safe for concurrent use
	return cases.Title(language.English).String(strings.Join(words, " "))
}
