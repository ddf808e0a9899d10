package sitehandler

import (
	"context"
	"errors"

	"github.com/keithlinneman/compliance-web/internal/content"
	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

// Refresh re-renders every live mount from revision. Mounts whose fragment
// no longer exists are torn down. A fetch error leaves that mount on its
// current content and is returned so the caller retries the revision.
// Refresh implements content.Refresher.
func (h *Handler) Refresh(ctx context.Context, revision string) error {
	var errs []error
	rerendered, removed := 0, 0

	for _, slug := range h.opts.Mounts.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, ok := h.opts.Mounts.Lookup(slug)
		if !ok {
			continue
		}

		frag, err := h.fetch(ctx, revision, slug)
		if errors.Is(err, content.ErrNotFound) {
			h.opts.Mounts.Remove(slug)
			removed++
			continue
		}
		if err != nil {
			errs = append(errs, xerrors.Wrapf(err, "refresh %s", slug))
			continue
		}

		// identical content keeps the live session, anything else supersedes it
		m.Render(ctx, frag.HTML)
		rerendered++
	}

	h.opts.Logger.Info(ctx, "legacy mounts refreshed",
		"revision", revision,
		"rerendered", rerendered,
		"removed", removed,
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

var _ content.Refresher = (*Handler)(nil)
