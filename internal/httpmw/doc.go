// Package httpmw holds the middleware wrapped around the public site router.
//
// httpserver.NewHandler composes them outermost first: security headers
// (including the CSP that admits the legacy origin), recover, request id,
// client ip, rate limiting, tracing, content revision headers, metrics,
// request logger, then the chi router with route annotation and the access
// log. Free form request headers such as User-Agent never reach the logs.
package httpmw
