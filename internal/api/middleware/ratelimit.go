package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/deepgram/persona-relay/internal/config"
	"github.com/deepgram/persona-relay/pkg/httpext"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/deepgram/persona-relay/pkg/ratelimit"
)

// RateLimit limits requests per client IP using the limits configured for
// limitKey. A non-nil counter shares the budget across replicas.
func RateLimit(limitKey string, counter ratelimit.Counter) func(http.Handler) http.Handler {
	cfg := config.GetRateLimitConfig(limitKey)

	var limiter ratelimit.Allower = ratelimit.NewLimiter(cfg.Window, cfg.MaxHits)
	if counter != nil {
		limiter = ratelimit.NewSharedLimiter(counter, limitKey, cfg.Window, cfg.MaxHits)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if !limiter.Allow(r.Context(), ip) {
				logger.Warn(logger.MIDDLEWARE, "Rate limit exceeded for %s on %s", ip, limitKey)
				httpext.JsonError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP uses the first X-Forwarded-For hop if behind a proxy, otherwise
// the remote address without its port.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
