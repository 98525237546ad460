// Package filters defines the interfaces of the request/response filter
// chain wrapping the terminal handler of the proxy.
package filters

import (
	"net/http"

	"github.com/proxycraft/proxycraft/logging"
	"github.com/proxycraft/proxycraft/metrics"
)

// FilterContext is the view a filter has of the request being served. It
// is implemented by the proxy and passed to both filter directions.
type FilterContext interface {

	// The request being served. Filters may mutate it on the request
	// path.
	Request() *http.Request

	// The response of the terminal handler or of a serving filter.
	// Valid on the response path; filters may replace its body.
	Response() *http.Response

	// Serve short-circuits the chain with the given response. Filters
	// further inward are not invoked; the response still passes the
	// Response direction of the filters that already ran.
	Serve(*http.Response)

	// Served reports whether a filter has short-circuited the chain.
	Served() bool

	// StateBag carries request-scoped values between filters and the
	// terminal handler.
	StateBag() map[string]interface{}

	Logger() logging.Logger
	Metrics() metrics.Metrics
}

// Filter observes or rewrites a request on its way to the terminal
// handler and the response on its way back.
type Filter interface {
	Request(FilterContext)
	Response(FilterContext)
}

// Noop is embedded by filters that act in one direction only.
type Noop struct{}

func (Noop) Request(FilterContext)  {}
func (Noop) Response(FilterContext) {}

// State bag keys shared between filters and the proxy.
const (

	// EndpointKey holds the matched *config.Endpoint, set by the
	// terminal handler.
	EndpointKey = "endpoint"

	// CacheKeyKey holds the cache key string when the request is
	// cacheable.
	CacheKeyKey = "cache-key"

	// CacheHitKey marks a response served from the cache.
	CacheHitKey = "cache-hit"

	// BreakerDoneKey holds the func(bool) reporting the request outcome
	// to the circuit breaker.
	BreakerDoneKey = "breaker-done"
)
