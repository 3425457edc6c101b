// Package request provides the outermost HTTP middleware: correlation ID,
// client IP capture, and a pinned request time so one request observes one
// consistent server clock reading.
package request

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"smartattend/pkg/requestcontext"
)

// HeaderRequestID is the inbound/outbound correlation ID header.
const HeaderRequestID = "X-Request-ID"

// Context wraps handlers with request-scoped metadata. An inbound
// X-Request-ID is honored so correlation survives service hops; otherwise a
// fresh UUID is assigned. The response always echoes the ID.
func Context(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := r.Context()
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithClientIP(ctx, clientIP(r))
		// TIMESTAMPTZ keeps microseconds; checksummed timestamps must
		// survive a reload byte-identical.
		ctx = requestcontext.WithTime(ctx, time.Now().UTC().Truncate(time.Microsecond))

		w.Header().Set(HeaderRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP extracts the peer address, preferring X-Forwarded-For when a
// trusted proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
