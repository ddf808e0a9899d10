// Package render owns the isolated render scopes that legacy content is
// placed into and the load coordination that decides when that content
// becomes visible.
//
// A [Mount] is one named mount point. It owns a [Scope] exclusively and has
// at most one live [Session]. Render sanitizes and rewrites a fragment,
// rebuilds the scope (override style, one stylesheet link per manifest
// entry, a hidden wrapper holding the fragment) and then waits for every
// stylesheet to settle or for the reveal timeout, whichever comes first.
//
// The mount mutex serializes everything that touches a scope. Loader
// callbacks and timers run on their own goroutines and take the same lock;
// a callback for a session that is no longer live is dropped, so a
// superseded or torn down session can never change what a scope shows.
package render
