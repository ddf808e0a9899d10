// Package sitehandler serves legacy CMS pages under /legacy/ and the site's
// static assets.
//
// A page request resolves the slug to a render mount, fetching and rendering
// the fragment at the current content revision when the mount is empty, then
// waits for the mount to reveal and writes it inside the page shell. Missing
// fragments get the 404 page, an unavailable source the maintenance page.
package sitehandler
