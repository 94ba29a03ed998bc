package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/wudi/cachelayer/internal/errors"
)

// KeyFunc extracts the rate-limit identifier from a request.
type KeyFunc func(*http.Request) string

// KeyByIP identifies clients by X-Forwarded-For, X-Real-IP, then RemoteAddr.
func KeyByIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeyByHeader identifies clients by a header value, falling back to the client IP.
func KeyByHeader(name string) KeyFunc {
	prefix := "header:" + name + ":"
	return func(r *http.Request) string {
		if v := r.Header.Get(name); v != "" {
			return prefix + v
		}
		return KeyByIP(r)
	}
}

// BuildKeyFunc returns a key extraction function based on configuration:
// "ip" (default) or "header:<name>".
func BuildKeyFunc(key string) KeyFunc {
	if strings.HasPrefix(key, "header:") {
		return KeyByHeader(key[len("header:"):])
	}
	return KeyByIP
}

// Middleware rejects requests over the limit with a JSON 429 and sets
// X-RateLimit-* headers on every response.
func Middleware(checker Checker, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = KeyByIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := checker.Check(r.Context(), keyFn(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))

			if !res.Allowed {
				retryAfter := int(res.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				errors.ErrTooManyRequests.WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
