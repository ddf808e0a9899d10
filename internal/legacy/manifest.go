package legacy

import (
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"net/url"
	"slices"
	"strings"
)

// DefaultIconPath is the site-local bullet icon used by the override sheet.
const DefaultIconPath = "/static/legacy/bullet.svg"

const iconPlaceholder = "__ICON_URL__"

//go:embed override.css
var overrideTemplate string

// ManifestOptions configures NewManifest.
type ManifestOptions struct {
	// Stylesheets are the external legacy stylesheets, in load order.
	// Relative entries are resolved with Resolver.
	Stylesheets []string
	// IconPath is embedded into the override sheet. Empty or unsafe values
	// fall back to DefaultIconPath.
	IconPath string
	Resolver Resolver
}

// Manifest is the stylesheet set injected into every render scope. It is
// built once at startup and never changes, so one value is shared by all
// sessions. The zero value has no stylesheets and an empty override.
type Manifest struct {
	overrideCSS  string
	overrideHash string
	stylesheets  []string
	iconURL      string
}

func NewManifest(opts ManifestOptions) Manifest {
	icon := strings.TrimSpace(opts.IconPath)
	if !SafeCSSURL(icon) {
		icon = DefaultIconPath
	}

	// one reference per configured entry, repeats included; blanks are
	// not entries
	sheets := make([]string, 0, len(opts.Stylesheets))
	for _, s := range opts.Stylesheets {
		if s = strings.TrimSpace(s); s != "" {
			sheets = append(sheets, opts.Resolver.Resolve(s))
		}
	}

	css := strings.ReplaceAll(overrideTemplate, iconPlaceholder, icon)
	sum := sha256.Sum256([]byte(css))

	return Manifest{
		overrideCSS:  css,
		overrideHash: "sha256-" + base64.StdEncoding.EncodeToString(sum[:]),
		stylesheets:  sheets,
		iconURL:      icon,
	}
}

// OverrideCSS is the static override stylesheet text.
func (m Manifest) OverrideCSS() string { return m.overrideCSS }

// OverrideHash is the CSP source expression for the override <style>.
func (m Manifest) OverrideHash() string { return m.overrideHash }

// Stylesheets returns a copy of the external stylesheet URLs in load order.
func (m Manifest) Stylesheets() []string {
	out := make([]string, len(m.stylesheets))
	copy(out, m.stylesheets)
	return out
}

func (m Manifest) IconURL() string { return m.iconURL }

// StylesheetOrigins returns the distinct scheme://host origins of the
// external stylesheets, in first-seen order.
func (m Manifest) StylesheetOrigins() []string {
	var out []string
	for _, s := range m.stylesheets {
		if o := Origin(s); o != "" && !slices.Contains(out, o) {
			out = append(out, o)
		}
	}
	return out
}

// Origin returns the scheme://host of an absolute http(s) URL, or "" for
// anything else.
func Origin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		return scheme + "://" + strings.ToLower(u.Host)
	}
	return ""
}

// SafeCSSURL reports whether s can be placed inside url("...") as is.
func SafeCSSURL(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "\"'()\\<>\n\r\t ")
}
