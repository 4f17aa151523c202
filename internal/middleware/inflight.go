package middleware

import (
	"net/http"

	"golang.org/x/sync/semaphore"
)

// MaxInFlight lets at most n requests run at once. The rest wait for a slot until their
// own context ends and then get a 503.
func MaxInFlight(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		sem := semaphore.NewWeighted(n)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sem.Acquire(r.Context(), 1); err != nil {
				http.Error(w, "server busy", http.StatusServiceUnavailable)
				return
			}
			defer sem.Release(1)
			next.ServeHTTP(w, r)
		})
	}
}
