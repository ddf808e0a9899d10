package legacy

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// dataSrc admits lazy-load sources that are http(s), data, blob or plain
// relative paths. Anything carrying another scheme is dropped.
var dataSrc = regexp.MustCompile(`^(?i:(?:https?|data|blob):|//|[^:]*$)`)

// mediaType and linkRel keep the handful of values legacy embeds actually use.
var (
	mediaType = regexp.MustCompile(`^[a-zA-Z0-9.+-]+/[a-zA-Z0-9.+;=" -]+$`)
	linkRel   = regexp.MustCompile(`^(?i)stylesheet$`)
	dimension = regexp.MustCompile(`^[0-9]+(?:%|px)?$`)
)

// styleProperties are the inline declarations legacy content relies on for
// layout. Everything else in a style attribute is dropped.
var styleProperties = []string{
	"background", "background-color", "background-image", "background-position",
	"background-repeat", "background-size",
	"border", "border-collapse", "border-color", "border-style", "border-width",
	"color", "display", "float", "clear",
	"font-size", "font-style", "font-weight", "line-height",
	"height", "max-height", "max-width", "min-height", "min-width", "width",
	"list-style", "list-style-image", "list-style-type",
	"margin", "margin-bottom", "margin-left", "margin-right", "margin-top",
	"padding", "padding-bottom", "padding-left", "padding-right", "padding-top",
	"text-align", "text-decoration", "vertical-align", "white-space",
}

// unsafeCSS matches value fragments that can run script or pull in other
// stylesheets in some engine. bluemonday lowercases values before calling
// the handler.
var unsafeCSS = []string{"expression(", "javascript:", "vbscript:", "-moz-binding", "behavior:", "@import", "\\"}

func safeStyleValue(v string) bool {
	for _, bad := range unsafeCSS {
		if strings.Contains(v, bad) {
			return false
		}
	}
	return true
}

// Sanitizer applies the legacy content policy. A Sanitizer is safe for
// concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds the policy: bluemonday's UGC profile (text flow,
// lists, tables, links, images) plus the media embeds and inline layout
// styles legacy pages were authored with.
func NewSanitizer() *Sanitizer {
	p := bluemonday.UGCPolicy()
	// rel values are not rewritten, keeps a second pass byte-identical
	p.RequireNoFollowOnLinks(false)

	p.AllowURLSchemes("http", "https", "mailto", "tel", "blob")
	p.AllowDataURIImages()

	p.AllowAttrs("data-src").Matching(dataSrc).OnElements("img")
	p.AllowAttrs("srcset").OnElements("img", "source")
	p.AllowAttrs("loading").Matching(regexp.MustCompile(`^(?:lazy|eager)$`)).OnElements("img", "iframe")

	p.AllowElements("picture", "video", "audio", "source", "figure", "figcaption")
	p.AllowAttrs("src", "poster").OnElements("video")
	p.AllowAttrs("src").OnElements("audio", "source")
	p.AllowAttrs("type").Matching(mediaType).OnElements("source")
	p.AllowAttrs("media", "sizes").Matching(bluemonday.Paragraph).OnElements("source", "img")
	p.AllowAttrs("controls", "muted", "loop", "playsinline").Matching(regexp.MustCompile(`^(?:|controls|muted|loop|playsinline)$`)).OnElements("video", "audio")
	p.AllowAttrs("width", "height").Matching(dimension).OnElements("video", "iframe")

	p.AllowElements("iframe")
	p.AllowAttrs("src", "title").OnElements("iframe")
	p.AllowAttrs("sandbox").OnElements("iframe")
	p.AllowAttrs("allowfullscreen").Matching(regexp.MustCompile(`^(?:|allowfullscreen|true)$`)).OnElements("iframe")
	p.RequireSandboxOnIFrame(
		bluemonday.SandboxAllowScripts,
		bluemonday.SandboxAllowSameOrigin,
		bluemonday.SandboxAllowPresentation,
		bluemonday.SandboxAllowPopups,
	)

	p.AllowElements("link")
	p.AllowAttrs("rel").Matching(linkRel).OnElements("link")
	p.AllowAttrs("href").OnElements("link")
	p.AllowAttrs("media").Matching(bluemonday.Paragraph).OnElements("link")

	// class and id drive the legacy block layout rules in the override sheet
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).Globally()
	p.AllowAttrs("id").Matching(regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_:.-]*$`)).Globally()

	p.AllowStyles(styleProperties...).MatchingHandler(safeStyleValue).Globally()

	return &Sanitizer{policy: p}
}

// Sanitize returns raw restricted to the legacy policy. Empty input yields
// empty output; malformed markup is tokenized best effort, never rejected.
func (s *Sanitizer) Sanitize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return s.policy.Sanitize(raw)
}
