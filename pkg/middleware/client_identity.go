package middleware

import (
	"net"
	"net/http"
	"strings"

	"herenow/pkg/ratelimit"
)

// ClientIdentity stores the caller's network origin in the request context
// for the rate limiter. The first X-Forwarded-For hop wins, then X-Real-IP,
// then the connection's remote address.
func ClientIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ratelimit.WithIdentifier(r.Context(), ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
