package sitehandler

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/compliance-web/internal/pathutil"
)

// resolveAsset maps a path below /static/ to a regular file within fsys.
// Directories, dot segments and anything ambiguous are rejected.
func resolveAsset(rel string, fsys fs.FS) (string, bool) {
	if rel == "" || strings.HasSuffix(rel, "/") {
		return "", false
	}
	if strings.Contains(rel, "\x00") || strings.Contains(rel, "\\") || strings.Contains(rel, "..") {
		return "", false
	}
	if pathutil.HasDotSegments("/" + rel) {
		return "", false
	}
	name := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if !existsFile(fsys, name) {
		return "", false
	}
	return name, true
}

// legacySlug turns the wildcard part of /legacy/{slug...} into a slug, or
// reports false when it is not one.
func legacySlug(rel string) (string, bool) {
	slug := strings.TrimSuffix(rel, "/")
	if !pathutil.ValidSlug(slug) {
		return "", false
	}
	return slug, true
}

func existsFile(fsys fs.FS, name string) bool {
	if fsys == nil || name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
