package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog. Requests
// carrying a well-formed bearer credential are tagged with the owner
// id; agents share egress IPs, so owner is the field operators
// correlate on. The token itself is never logged.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				evt := logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr)
				if owner := bearerOwner(r); owner != "" {
					evt = evt.Str("owner_id", owner)
				}
				evt.Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// bearerOwner extracts the owner id with the same lenient shape check
// the rate limiter uses. Shape enforcement happens in RequireBearer.
func bearerOwner(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	parts := strings.Split(strings.TrimPrefix(header, "Bearer "), "|")
	if len(parts) != 3 || parts[1] == "" {
		return ""
	}
	return parts[1]
}
