// Package botfilter allows or denies requests by their User-Agent. The
// whitelist is consulted first, then the blacklist; requests without a
// User-Agent pass through.
package botfilter

import (
	"net/http"

	"github.com/proxycraft/proxycraft/antpath"
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

type bot struct {
	name    string
	pattern *antpath.Pattern
}

type filter struct {
	filters.Noop
	whitelist []bot
	blacklist []bot
}

// New compiles the bot lists. Returns nil when the filter is disabled.
func New(c *config.BotFilter) (filters.Filter, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}

	f := &filter{}
	var err error
	if f.whitelist, err = compileBots(c.Whitelist); err != nil {
		return nil, err
	}

	if f.blacklist, err = compileBots(c.Blacklist); err != nil {
		return nil, err
	}

	if len(f.whitelist) == 0 && len(f.blacklist) == 0 {
		return nil, nil
	}

	return f, nil
}

func compileBots(bots []config.Bot) ([]bot, error) {
	var out []bot
	for _, b := range bots {
		p, err := antpath.Compile(b.UserAgent)
		if err != nil {
			return nil, err
		}

		out = append(out, bot{name: b.Name, pattern: p})
	}

	return out, nil
}

func (f *filter) Request(ctx filters.FilterContext) {
	ua := ctx.Request().Header.Get("User-Agent")
	if ua == "" {
		ctx.Logger().Debug("botfilter: no user agent, passing through")
		return
	}

	for _, b := range f.whitelist {
		if b.pattern.Match(ua) {
			return
		}
	}

	for _, b := range f.blacklist {
		if b.pattern.Match(ua) {
			ctx.Logger().Infof("botfilter: denied %s (%s)", b.name, ua)
			ctx.Serve(filters.TextResponse(http.StatusForbidden, "Access denied"))
			return
		}
	}
}
