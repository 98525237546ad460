package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycraft/proxycraft/config"
)

func selector(t *testing.T, doc string) *Selector {
	t.Helper()
	c, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	s, err := New(c)
	require.NoError(t, err)
	return s
}

func TestSelectFirstMatch(t *testing.T) {
	s := selector(t, `{
		"name": "g", "version": "1",
		"endpoints": [
			{"prefix": "/api", "match": "/api/**", "identifier": "api",
			 "weight": 200, "upstream": {"proxy": {"enabled": true}}},
			{"prefix": "/", "match": "**/*", "identifier": "fallback",
			 "weight": 1, "upstream": {"proxy": {"enabled": true}}}
		]
	}`)

	e, err := s.Select("/api/users")
	require.NoError(t, err)
	assert.Equal(t, "api", e.Identifier)

	e, err = s.Select("/other")
	require.NoError(t, err)
	assert.Equal(t, "fallback", e.Identifier)
}

func TestSelectNormalizesTrailingSlash(t *testing.T) {
	s := selector(t, `{
		"name": "g", "version": "1",
		"endpoints": [{"prefix": "/files", "match": "/files/", "identifier": "files",
			"upstream": {"proxy": {"enabled": true}}}]
	}`)

	e, err := s.Select("/files")
	require.NoError(t, err)
	assert.Equal(t, "files", e.Identifier)
}

func TestSelectNotRouted(t *testing.T) {
	s := selector(t, `{
		"name": "g", "version": "1",
		"endpoints": [{"prefix": "/api", "match": "/api/**",
			"upstream": {"proxy": {"enabled": true}}}]
	}`)

	_, err := s.Select("/nope")
	assert.ErrorIs(t, err, ErrNotRouted)
}

func TestSelectFallsBackToPrefix(t *testing.T) {
	s := selector(t, `{
		"name": "g", "version": "1",
		"endpoints": [{"prefix": "/exact/", "identifier": "exact",
			"upstream": {"proxy": {"enabled": true}}}]
	}`)

	e, err := s.Select("/exact")
	require.NoError(t, err)
	assert.Equal(t, "exact", e.Identifier)
}

func TestByIdentifier(t *testing.T) {
	s := selector(t, `{
		"name": "g", "version": "1",
		"endpoints": [{"prefix": "/a", "identifier": "local",
			"upstream": {"proxy": {"enabled": true}}}]
	}`)

	e, ok := s.ByIdentifier("local")
	require.True(t, ok)
	assert.Equal(t, "/a", e.Prefix)

	_, ok = s.ByIdentifier("missing")
	assert.False(t, ok)
}
