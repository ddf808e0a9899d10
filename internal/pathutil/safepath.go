// Package pathutil holds the path checks shared by the page handler and the
// content sources.
package pathutil

import "strings"

const maxSlugLen = 200

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// ValidSlug reports whether s is a page slug: one or more "/"-separated
// segments of lowercase ascii letters, digits, '-' and '_'. Empty segments,
// leading or trailing slashes and dot segments are rejected.
func ValidSlug(s string) bool {
	if s == "" || len(s) > maxSlugLen {
		return false
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == "" {
			return false
		}
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			switch {
			case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			default:
				return false
			}
		}
	}
	return true
}

// ValidToken reports whether s is safe to use as one object key segment:
// ascii letters, digits, '.', '-' and '_', and not a dot segment.
func ValidToken(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > maxSlugLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
