package proxy

import (
	"net/http"

	"github.com/proxycraft/proxycraft/filters"
	"github.com/proxycraft/proxycraft/logging"
	"github.com/proxycraft/proxycraft/metrics"
)

// context carries one request through the filter chain and the terminal
// handler. It implements filters.FilterContext.
type context struct {
	request  *http.Request
	response *http.Response
	served   bool
	stateBag map[string]interface{}
	proxy    *Proxy

	// identifiers of the virtual endpoints on the current re-entry
	// path, for cycle detection
	sourceStack []string
}

var _ filters.FilterContext = &context{}

func newContext(r *http.Request, p *Proxy) *context {
	return &context{
		request:  r,
		stateBag: make(map[string]interface{}),
		proxy:    p,
	}
}

// clone derives the context of a virtual re-entry: fresh state, shared
// proxy, extended source stack.
func (c *context) clone(r *http.Request, source string) *context {
	return &context{
		request:     r,
		stateBag:    make(map[string]interface{}),
		proxy:       c.proxy,
		sourceStack: append(c.sourceStack, source),
	}
}

func (c *context) Request() *http.Request   { return c.request }
func (c *context) Response() *http.Response { return c.response }
func (c *context) Served() bool             { return c.served }

func (c *context) Serve(rsp *http.Response) {
	c.served = true
	c.response = rsp
}

func (c *context) StateBag() map[string]interface{} { return c.stateBag }
func (c *context) Logger() logging.Logger           { return c.proxy.log }
func (c *context) Metrics() metrics.Metrics         { return c.proxy.metrics }

func (c *context) onStack(source string) bool {
	for _, s := range c.sourceStack {
		if s == source {
			return true
		}
	}

	return false
}
