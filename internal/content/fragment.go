package content

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Fetch when a revision has no fragment for a slug.
var ErrNotFound = errors.New("content: fragment not found")

// DefaultMaxFragmentBytes caps one fragment.
const DefaultMaxFragmentBytes = 2 << 20

type Origin string

const (
	OriginUnknown Origin = "unknown"
	OriginDisk    Origin = "disk"
	OriginS3      Origin = "s3"
)

// Fragment is the raw legacy HTML for one page. HTML may be empty.
type Fragment struct {
	Slug      string
	Revision  string
	HTML      string
	SHA256    string
	Origin    Origin
	Verified  bool
	FetchedAt time.Time
}

// Source is where fragments come from.
type Source interface {
	// Revision returns the identifier of the content revision to serve.
	Revision(ctx context.Context) (string, error)
	// Fetch returns the fragment for slug in revision, or ErrNotFound.
	Fetch(ctx context.Context, revision, slug string) (*Fragment, error)
}
