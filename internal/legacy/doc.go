// Package legacy turns raw HTML exported from the old CMS into markup that is
// safe to place inside a render scope.
//
// The steps are pure and deterministic:
//   - [Sanitizer] removes script execution vectors (bluemonday policy)
//   - [Resolve] classifies one resource reference and makes it absolute
//   - [Rewriter] applies Resolve to every known asset attribute, srcset
//     candidate and inline style url()
//   - [Manifest] is the static stylesheet set every render scope receives
//
// None of these return errors. Malformed input degrades to best effort and a
// reference that cannot be resolved is kept as authored.
package legacy
