package content

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestDirSource_Fetch(t *testing.T) {
	fsys := fstest.MapFS{
		"about.html":              {Data: []byte("<p>About</p>")},
		"services/iso-27001.html": {Data: []byte("<h1>ISO</h1>")},
		"empty.html":              {Data: nil},
	}
	src := NewDirSource(fsys)

	tests := []struct {
		slug    string
		want    string
		wantErr error
	}{
		{"about", "<p>About</p>", nil},
		{"services/iso-27001", "<h1>ISO</h1>", nil},
		{"empty", "", nil},
		{"missing", "", ErrNotFound},
		{"../about", "", ErrNotFound},
		{"About", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			f, err := src.Fetch(t.Context(), "local-x", tt.slug)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if f.HTML != tt.want || f.Origin != OriginDisk || f.Revision != "local-x" {
				t.Fatalf("unexpected fragment %+v", f)
			}
		})
	}
}

func TestDirSource_FetchTooLarge(t *testing.T) {
	src := NewDirSource(fstest.MapFS{"big.html": {Data: []byte(strings.Repeat("x", 100))}})
	src.maxBytes = 10
	if _, err := src.Fetch(t.Context(), "r", "big"); err == nil {
		t.Fatal("expected size error")
	}
}

func TestDirSource_RevisionTracksChanges(t *testing.T) {
	fsys := fstest.MapFS{"a.html": {Data: []byte("a"), ModTime: time.Unix(100, 0)}}
	src := NewDirSource(fsys)

	r1, err := src.Revision(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(r1, "local-") {
		t.Fatalf("revision = %q", r1)
	}
	r2, _ := src.Revision(t.Context())
	if r1 != r2 {
		t.Fatal("revision changed without a file change")
	}

	fsys["a.html"] = &fstest.MapFile{Data: []byte("ab"), ModTime: time.Unix(200, 0)}
	r3, _ := src.Revision(t.Context())
	if r3 == r1 {
		t.Fatal("revision did not change after an edit")
	}

	fsys["b.html"] = &fstest.MapFile{Data: []byte("b")}
	r4, _ := src.Revision(t.Context())
	if r4 == r3 {
		t.Fatal("revision did not change after a new file")
	}
}
