// Package filtertest implements a filter context for tests.
package filtertest

import (
	"net/http"

	"github.com/proxycraft/proxycraft/filters"
	"github.com/proxycraft/proxycraft/logging"
	"github.com/proxycraft/proxycraft/metrics"
)

// Context implements filters.FilterContext with plain accessible fields.
type Context struct {
	FRequest  *http.Request
	FResponse *http.Response
	FServed   bool
	FStateBag map[string]interface{}
	FMetrics  metrics.Metrics
	FLogger   logging.Logger
}

var _ filters.FilterContext = &Context{}

func (c *Context) Request() *http.Request   { return c.FRequest }
func (c *Context) Response() *http.Response { return c.FResponse }
func (c *Context) Served() bool             { return c.FServed }

func (c *Context) Serve(rsp *http.Response) {
	c.FServed = true
	c.FResponse = rsp
}

func (c *Context) StateBag() map[string]interface{} {
	if c.FStateBag == nil {
		c.FStateBag = make(map[string]interface{})
	}

	return c.FStateBag
}

func (c *Context) Logger() logging.Logger {
	if c.FLogger == nil {
		return &logging.DefaultLog{}
	}

	return c.FLogger
}

func (c *Context) Metrics() metrics.Metrics {
	if c.FMetrics == nil {
		return metrics.Void{}
	}

	return c.FMetrics
}
