package proxycraft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/routing"
)

func TestNewChainMinimal(t *testing.T) {
	c, err := config.Parse([]byte(`{
		"name": "g", "version": "1",
		"endpoints": [{"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"echo": {"enabled": true}}}]
	}`))
	require.NoError(t, err)

	s, err := routing.New(c)
	require.NoError(t, err)

	chain, err := newChain(c, nil, s)
	require.NoError(t, err)

	// no middleware config leaves the always-on rewriters only
	assert.Len(t, chain, 2)
}

func TestNewChainFull(t *testing.T) {
	c, err := config.Parse([]byte(`{
		"name": "g", "version": "1",
		"middlewares": {
			"performance": {
				"compression": {"enabled": true, "type": "gzip"},
				"resource_filter": {"enabled": true, "skip_paths": ["/favicon.ico"]},
				"circuit_breaking": {"enabled": true},
				"cache": {"enabled": true, "memory": {"enabled": true}}
			},
			"security": {
				"ip_filter": {"enabled": true, "blacklist": ["*.0.0.2"]},
				"bot_filter": {"enabled": true,
					"blacklist": [{"name": "curl", "user-agent": "curl/*"}]}
			}
		},
		"endpoints": [{"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"echo": {"enabled": true}}}]
	}`))
	require.NoError(t, err)

	s, err := routing.New(c)
	require.NoError(t, err)

	chain, err := newChain(c, nil, s)
	require.NoError(t, err)

	// compress, contentlength, transform, resource, ipfilter,
	// botfilter, memcache, breaker; no engine, so no file cache slot
	assert.Len(t, chain, 8)
}

func TestNewEngineDisabled(t *testing.T) {
	c, err := config.Parse([]byte(`{
		"name": "g", "version": "1",
		"endpoints": [{"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"echo": {"enabled": true}}}]
	}`))
	require.NoError(t, err)

	engine, err := newEngine(c, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, engine)
}

func TestNewEngineFromConfig(t *testing.T) {
	dir := t.TempDir()
	c, err := config.Parse([]byte(`{
		"name": "g", "version": "1",
		"middlewares": {"performance": {"cache": {
			"enabled": true,
			"file": {"enabled": true, "path": "` + dir + `",
				"ttl": 60, "include_patterns": ["**/*.json"]}
		}}},
		"endpoints": [{"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"echo": {"enabled": true}}}]
	}`))
	require.NoError(t, err)

	engine, err := newEngine(c, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, engine)
	defer engine.Close()

	assert.True(t, engine.Cacheable("GET", "/x.json"))
}
