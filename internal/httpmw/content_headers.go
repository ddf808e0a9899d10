package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo reports the content revision currently being served.
type ContentInfo interface {
	ContentRevision() string
}

// ContentHeaders sets X-Content-Revision on every response once a revision
// has been resolved, and tags the active span with it.
func ContentHeaders(info ContentInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				if rev := info.ContentRevision(); rev != "" {
					w.Header().Set("X-Content-Revision", rev)
					if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
						span.SetAttributes(attribute.String("content.revision", rev))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
