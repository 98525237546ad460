package resource

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters/filtertest"
)

func TestSkipPaths(t *testing.T) {
	f, err := New(&config.ResourceFilter{
		Enabled:   true,
		SkipPaths: []string{"/favicon.ico", "**/*.map"},
	})
	require.NoError(t, err)

	for _, tt := range []struct {
		path    string
		skipped bool
	}{
		{"/favicon.ico", true},
		{"/static/app.js.map", true},
		{"/static/app.js", false},
		{"/", false},
	} {
		ctx := &filtertest.Context{FRequest: httptest.NewRequest("GET", tt.path, nil)}
		f.Request(ctx)

		assert.Equal(t, tt.skipped, ctx.FServed, "path %q", tt.path)
		if tt.skipped {
			assert.Equal(t, http.StatusNoContent, ctx.FResponse.StatusCode)
		}
	}
}

func TestDisabled(t *testing.T) {
	f, err := New(&config.ResourceFilter{Enabled: false, SkipPaths: []string{"/x"}})
	require.NoError(t, err)
	assert.Nil(t, f)
}
