// Package ipfilter denies requests whose client address matches a
// configured glob.
package ipfilter

import (
	"net"
	"net/http"

	"github.com/proxycraft/proxycraft/antpath"
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

type filter struct {
	filters.Noop
	blacklist []*antpath.Pattern
}

// New compiles the deny list. Returns nil when the filter is disabled.
func New(c *config.IPFilter) (filters.Filter, error) {
	if c == nil || !c.Enabled || len(c.Blacklist) == 0 {
		return nil, nil
	}

	f := &filter{}
	for _, p := range c.Blacklist {
		compiled, err := antpath.Compile(p)
		if err != nil {
			return nil, err
		}

		f.blacklist = append(f.blacklist, compiled)
	}

	return f, nil
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func (f *filter) Request(ctx filters.FilterContext) {
	addr := clientAddr(ctx.Request())
	if addr == "" {
		ctx.Logger().Warn("ipfilter: no client address, passing through")
		return
	}

	for _, p := range f.blacklist {
		if p.Match(addr) {
			ctx.Logger().Infof("ipfilter: denied %s", addr)
			ctx.Serve(filters.TextResponse(http.StatusForbidden, "Access denied"))
			return
		}
	}
}
