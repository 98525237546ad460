// Package memcache is the in-memory cache slot of the filter chain. The
// slot is a pass-through: the engine behind the file cache already keeps
// a memory tier, so a second memory cache here would only duplicate it.
// The config surface is accepted and the chain position is kept.
package memcache

import (
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

type filter struct {
	filters.Noop
}

// New returns the pass-through filter, nil when the slot is disabled.
func New(c *config.MemoryCache) filters.Filter {
	if c == nil || !c.Enabled {
		return nil
	}

	return &filter{}
}
