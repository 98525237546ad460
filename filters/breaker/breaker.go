// Package breaker guards the terminal handler with a circuit breaker.
// While the circuit is open, requests are answered 503 without reaching
// routing or a backend. Outcomes are recorded from the response status;
// cache hits and filter short-circuits never reach this filter and so do
// not count.
package breaker

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

type filter struct {
	breaker *gobreaker.TwoStepCircuitBreaker
}

// New returns the circuit breaker filter, nil when disabled.
func New(c *config.CircuitBreaking) filters.Filter {
	if c == nil || !c.Enabled {
		return nil
	}

	threshold := c.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}

	minSamples := c.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}

	settings := gobreaker.Settings{
		Name:     "proxycraft",
		Interval: time.Duration(c.WindowSeconds) * time.Second,
		Timeout:  time.Duration(c.ResetTimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(minSamples) {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= threshold
		},
	}

	return &filter{breaker: gobreaker.NewTwoStepCircuitBreaker(settings)}
}

func (f *filter) Request(ctx filters.FilterContext) {
	done, err := f.breaker.Allow()
	if err != nil {
		ctx.Logger().Warnf("breaker: rejecting request: %v", err)
		rsp := filters.JSONResponse(http.StatusServiceUnavailable,
			[]byte(`{"error":"circuit open"}`))
		rsp.Header.Set("X-Circuit-Open", "true")
		ctx.Serve(rsp)
		return
	}

	ctx.StateBag()[filters.BreakerDoneKey] = done
}

func (f *filter) Response(ctx filters.FilterContext) {
	done, _ := ctx.StateBag()[filters.BreakerDoneKey].(func(bool))
	if done == nil {
		return
	}

	delete(ctx.StateBag(), filters.BreakerDoneKey)
	done(ctx.Response().StatusCode < http.StatusInternalServerError)
}
