package render

import (
	"bytes"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Scope is a mount's isolated rendering boundary: a host element carrying a
// declarative open shadow root. Legacy styles and markup live inside the
// shadow root, so they cannot reach the host page and the page's styles
// cannot reach them.
//
// A Scope is not safe for concurrent use; its Mount serializes access.
type Scope struct {
	host    *html.Node
	root    *html.Node
	wrapper *html.Node
	closed  bool
}

const (
	hostClass    = "legacy-host"
	wrapperClass = "legacy-content"
)

func newScope(name string) *Scope {
	host := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "class", Val: hostClass},
			{Key: "data-mount", Val: name},
		},
	}
	root := &html.Node{
		Type:     html.ElementNode,
		Data:     "template",
		DataAtom: atom.Template,
		Attr:     []html.Attribute{{Key: "shadowrootmode", Val: "open"}},
	}
	host.AppendChild(root)
	return &Scope{host: host, root: root}
}

// clear removes everything previously rendered inside the shadow root.
func (s *Scope) clear() {
	for c := s.root.FirstChild; c != nil; {
		next := c.NextSibling
		s.root.RemoveChild(c)
		c = next
	}
	s.wrapper = nil
}

func (s *Scope) injectOverride(css string) {
	style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	s.root.AppendChild(style)
}

func (s *Scope) addStylesheet(href string) {
	s.root.AppendChild(&html.Node{
		Type:     html.ElementNode,
		Data:     "link",
		DataAtom: atom.Link,
		Attr: []html.Attribute{
			{Key: "rel", Val: "stylesheet"},
			{Key: "href", Val: href},
		},
	})
}

// place puts nodes into a new hidden wrapper at the end of the shadow root.
// The nodes must not have a parent.
func (s *Scope) place(nodes []*html.Node) {
	w := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "class", Val: wrapperClass},
			{Key: "hidden", Val: ""},
		},
	}
	for _, n := range nodes {
		w.AppendChild(n)
	}
	s.root.AppendChild(w)
	s.wrapper = w
}

// reveal drops the wrapper's hidden attribute.
func (s *Scope) reveal() {
	if s.wrapper == nil {
		return
	}
	attrs := s.wrapper.Attr[:0]
	for _, a := range s.wrapper.Attr {
		if a.Key != "hidden" {
			attrs = append(attrs, a)
		}
	}
	s.wrapper.Attr = attrs
}

// Visible reports whether the wrapper exists and is not hidden.
func (s *Scope) Visible() bool {
	if s.wrapper == nil {
		return false
	}
	for _, a := range s.wrapper.Attr {
		if a.Key == "hidden" {
			return false
		}
	}
	return true
}

func (s *Scope) close() {
	s.clear()
	s.closed = true
}

// Render writes the host element and its shadow root.
func (s *Scope) Render(w io.Writer) error {
	return html.Render(w, s.host)
}

func (s *Scope) bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := s.Render(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
