package middleware

import (
	"net/http"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"golang.org/x/time/rate"
)

// RateLimit sheds load above rps requests per second with the given burst.
// A non-positive rps disables it.
func RateLimit(rps float64, burst int, log logger.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				log.Warn("Request rate limited",
					logger.StringField("method", r.Method),
					logger.StringField("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
