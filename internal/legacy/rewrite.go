package legacy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// AssetAttr is one element/attribute pair that carries a single URL.
type AssetAttr struct {
	Element string
	Attr    string
}

// AssetAttrs is the fixed set of single-URL references rewritten in legacy
// markup. srcset and style are handled on every element.
var AssetAttrs = []AssetAttr{
	{"img", "src"},
	{"img", "data-src"},
	{"source", "src"},
	{"video", "poster"},
	{"iframe", "src"},
	{"a", "href"},
	{"link", "href"},
}

var assetAttrSet = func() map[AssetAttr]struct{} {
	m := make(map[AssetAttr]struct{}, len(AssetAttrs))
	for _, a := range AssetAttrs {
		m[a] = struct{}{}
	}
	return m
}()

// cssURL matches url(...) with a double-quoted, single-quoted or bare
// argument. An unterminated url( never matches and is left as authored.
var cssURL = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^"'()\s]*))\s*\)`)

// Rewriter makes every asset reference in a fragment absolute. It holds no
// mutable state and is safe for concurrent use.
type Rewriter struct {
	resolver Resolver
}

func NewRewriter(r Resolver) *Rewriter {
	return &Rewriter{resolver: r}
}

// Rewrite parses sanitized markup as body content, rewrites it and renders
// it back. On a render failure the input is returned unchanged.
func (w *Rewriter) Rewrite(sanitized string) string {
	if strings.TrimSpace(sanitized) == "" {
		return ""
	}
	nodes := ParseFragment(sanitized)
	w.RewriteNodes(nodes)

	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return sanitized
		}
	}
	return b.String()
}

// ParseFragment parses markup in a <div> context. The tokenizer recovers
// from malformed input, so the only failure is a reader error that cannot
// happen on a string; that case yields no nodes.
func ParseFragment(markup string) []*html.Node {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil
	}
	return nodes
}

// RewriteNodes walks the trees rooted at nodes and rewrites asset
// attributes in place.
func (w *Rewriter) RewriteNodes(nodes []*html.Node) {
	for _, n := range nodes {
		w.walk(n)
	}
}

func (w *Rewriter) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		w.rewriteAttrs(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *Rewriter) rewriteAttrs(n *html.Node) {
	for i := range n.Attr {
		a := &n.Attr[i]
		if a.Namespace != "" {
			continue
		}
		switch a.Key {
		case "srcset":
			a.Val = w.RewriteSrcset(a.Val)
		case "style":
			a.Val = w.RewriteStyle(a.Val)
		default:
			if _, ok := assetAttrSet[AssetAttr{n.Data, a.Key}]; ok {
				a.Val = w.resolver.Resolve(a.Val)
			}
		}
	}
}

// RewriteSrcset resolves the URL of every candidate and keeps its
// descriptor verbatim. Candidates are rejoined with ", "; empty candidates
// are dropped.
func (w *Rewriter) RewriteSrcset(v string) string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ref, desc := p, ""
		if i := strings.IndexFunc(p, unicode.IsSpace); i >= 0 {
			ref, desc = p[:i], strings.TrimSpace(p[i:])
		}
		ref = w.resolver.Resolve(ref)
		if desc != "" {
			ref += " " + desc
		}
		out = append(out, ref)
	}
	return strings.Join(out, ", ")
}

// RewriteStyle resolves every url(...) in an inline style, keeping the
// quote character the author used.
func (w *Rewriter) RewriteStyle(v string) string {
	if !strings.Contains(strings.ToLower(v), "url(") {
		return v
	}
	matches := cssURL.FindAllStringSubmatchIndex(v, -1)
	if len(matches) == 0 {
		return v
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(v[last:m[0]])
		quote, ref := "", ""
		switch {
		case m[2] >= 0:
			quote, ref = `"`, v[m[2]:m[3]]
		case m[4] >= 0:
			quote, ref = `'`, v[m[4]:m[5]]
		case m[6] >= 0:
			ref = v[m[6]:m[7]]
		}
		b.WriteString("url(" + quote + w.resolver.Resolve(ref) + quote + ")")
		last = m[1]
	}
	b.WriteString(v[last:])
	return b.String()
}
