package middleware

import (
	"net/http"
	"sync/atomic"
)

// RequestStats tallies requests and error responses into counters owned
// by the caller, so the stats endpoint can read them without reaching
// into the middleware.
type RequestStats struct {
	requests *atomic.Int64
	errors   *atomic.Int64
}

func NewRequestStats(requests, errors *atomic.Int64) *RequestStats {
	return &RequestStats{requests: requests, errors: errors}
}

// Middleware counts every request, and every 4xx or 5xx response as an
// error.
func (s *RequestStats) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		if rw.statusCode >= 400 {
			s.errors.Add(1)
		}
	})
}
