package middleware

import (
	"net/http"

	"github.com/closetmind/gateway/pkg/apierror"
)

// DefaultMaxBodySize is the default maximum request body size (25MB).
// Sized above the upload cap so oversized uploads are rejected by the upload
// policy with a precise reason, not by the coarse body limit.
const DefaultMaxBodySize = 25 << 20

// BodyLimit limits the maximum size of request bodies.
// If maxBytes is 0, DefaultMaxBodySize is used.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip for methods without body
			if r.Method == http.MethodGet || r.Method == http.MethodHead ||
				r.Method == http.MethodOptions || r.Method == http.MethodTrace {
				next.ServeHTTP(w, r)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}

// HandleBodyLimitError writes the standard oversized-body rejection.
// Handlers that read the body call this when they hit http.MaxBytesError.
func HandleBodyLimitError(w http.ResponseWriter, _ *http.Request) {
	apierror.RequestTooLarge().WriteJSON(w)
}
