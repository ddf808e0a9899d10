package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

// fallback/ holds the 404 and maintenance pages, static/ the site stylesheet
// and the legacy list bullet icon served under /static/.
//
//go:embed fallback static
var embedded embed.FS

func FallbackFS() fs.FS {
	return mustSub("fallback")
}

func StaticFS() fs.FS {
	return mustSub("static")
}

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return sub
}
