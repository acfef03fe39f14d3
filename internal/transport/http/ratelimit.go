package http

import (
	"time"

	"golang.org/x/time/rate"
)

// newFrameLimiter allows perMinute inbound frames with a small burst. Zero disables limiting.
func newFrameLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}
