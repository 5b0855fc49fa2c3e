package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/atinyakov/credvault/internal/metrics"
	"github.com/atinyakov/credvault/internal/policy"
)

// ClientIP returns the network origin of r without the port. Forwarding
// headers are ignored here; chi's RealIP rewrites RemoteAddr when the server
// runs behind a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetRateLimitHeaders writes the RateLimit-* headers and, when the request
// was rejected, Retry-After.
func SetRateLimitHeaders(h http.Header, limit, remaining int, reset time.Duration, rejected bool) {
	if reset < 0 {
		reset = 0
	}
	secs := strconv.Itoa(int(math.Ceil(reset.Seconds())))
	h.Set("RateLimit-Limit", strconv.Itoa(limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("RateLimit-Reset", secs)
	if rejected {
		h.Set("Retry-After", secs)
	}
}

// RateLimit counts every request against limiter, keyed by client IP, and
// rejects requests beyond the limit with 429 and message.
func RateLimit(limiter *policy.Limiter, m *metrics.Metrics, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Allow(ClientIP(r))
			SetRateLimitHeaders(w.Header(), d.Limit, d.Remaining, time.Until(d.ResetAt), !d.Allowed)
			if !d.Allowed {
				m.RecordRateLimited(limiter.Name())
				writeError(w, http.StatusTooManyRequests, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
