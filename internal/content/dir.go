package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/keithlinneman/compliance-web/internal/cryptoutil"
	"github.com/keithlinneman/compliance-web/internal/pathutil"
	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

// DirSource serves fragments from {slug}.html files in a filesystem. The
// revision is derived from the names, sizes and modification times of those
// files, so editing a file during development changes it.
type DirSource struct {
	fsys     fs.FS
	maxBytes int64
}

func NewDirSource(fsys fs.FS) *DirSource {
	return &DirSource{fsys: fsys, maxBytes: DefaultMaxFragmentBytes}
}

func (d *DirSource) Revision(ctx context.Context) (string, error) {
	h := sha256.New()
	err := fs.WalkDir(d.fsys, ".", func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", p, info.Size(), info.ModTime().UnixNano())
		return ctx.Err()
	})
	if err != nil {
		return "", xerrors.Wrap(err, "scan content dir")
	}
	return "local-" + hex.EncodeToString(h.Sum(nil))[:12], nil
}

func (d *DirSource) Fetch(_ context.Context, revision, slug string) (*Fragment, error) {
	if !pathutil.ValidSlug(slug) {
		return nil, ErrNotFound
	}
	f, err := d.fsys.Open(slug + ".html")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrapf(err, "open fragment %s", slug)
	}
	defer f.Close()

	b, err := readCapped(f, d.maxBytes)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read fragment %s", slug)
	}
	return &Fragment{
		Slug:      slug,
		Revision:  revision,
		HTML:      string(b),
		SHA256:    cryptoutil.SHA256Hex(b),
		Origin:    OriginDisk,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// readCapped reads r fully and fails when it holds more than max bytes.
func readCapped(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, xerrors.Newf("fragment exceeds %d bytes", max)
	}
	return b, nil
}
