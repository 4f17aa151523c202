package middleware

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMessage is the body of the 503 sent when a request outlives its deadline.
const TimeoutMessage = "request timeout"

// Timeout bounds every request to d. Requests for which exempt returns true are not
// buffered: they only get a context deadline and must report the expiry themselves, which
// is what event streams need.
func Timeout(d time.Duration, exempt func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		buffered := http.TimeoutHandler(next, d, TimeoutMessage)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt == nil || !exempt(r) {
				buffered.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
