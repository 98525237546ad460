// Package resource short-circuits configured resource paths with
// 204 No Content, keeping favicon and probe noise away from the backends.
package resource

import (
	"net/http"

	"github.com/proxycraft/proxycraft/antpath"
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

type filter struct {
	filters.Noop
	skip []*antpath.Pattern
}

// New compiles the skip paths of the resource filter config. Returns nil
// when the filter is disabled.
func New(c *config.ResourceFilter) (filters.Filter, error) {
	if c == nil || !c.Enabled || len(c.SkipPaths) == 0 {
		return nil, nil
	}

	f := &filter{}
	for _, p := range c.SkipPaths {
		compiled, err := antpath.Compile(p)
		if err != nil {
			return nil, err
		}

		f.skip = append(f.skip, compiled)
	}

	return f, nil
}

func (f *filter) Request(ctx filters.FilterContext) {
	path := ctx.Request().URL.Path
	for _, p := range f.skip {
		if p.Match(path) {
			ctx.Serve(filters.NewResponse(http.StatusNoContent, nil, nil))
			return
		}
	}
}
