package legacy

import (
	"net/url"
	"regexp"
	"strings"
)

// keepAsIs matches references that are already absolute or use a scheme
// that must never be rebased.
var keepAsIs = regexp.MustCompile(`^(?i:https?:|data:|blob:|mailto:|tel:)`)

// Resolve rewrites one resource reference into an absolute form.
//
// Blank values and values with an http, https, data, blob, mailto or tel
// scheme are returned unchanged. Protocol-relative values get an https:
// prefix. Everything else is resolved as a relative reference against
// base. When the value or base cannot be parsed the value is returned
// unchanged.
func Resolve(value, base string) string {
	return NewResolver(base).Resolve(value)
}

// Resolver is Resolve with the base parsed once. The zero value has no base
// and leaves relative references untouched.
type Resolver struct {
	base *url.URL
}

// NewResolver parses base. A base that is not an absolute origin (scheme and
// host) yields a Resolver that only applies the scheme rules.
func NewResolver(base string) Resolver {
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil || b.Scheme == "" || b.Host == "" {
		return Resolver{}
	}
	return Resolver{base: b}
}

// Base returns the parsed base origin, or "" when none is usable.
func (r Resolver) Base() string {
	if r.base == nil {
		return ""
	}
	return r.base.String()
}

func (r Resolver) Resolve(value string) string {
	ref := strings.TrimSpace(value)
	if ref == "" || keepAsIs.MatchString(ref) {
		return value
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if r.base == nil {
		return value
	}
	u, err := url.Parse(ref)
	if err != nil {
		return value
	}
	return r.base.ResolveReference(u).String()
}
