package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests by client IP. A non-positive window falls back to one minute.
func RateLimit(requests int, window time.Duration) func(next http.Handler) http.Handler {
	if window <= 0 {
		window = time.Minute
	}
	return httprate.LimitByIP(requests, window)
}
