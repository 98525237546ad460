package ipfilter

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters/filtertest"
)

func TestDisabled(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = New(&config.IPFilter{Enabled: false, Blacklist: []string{"*"}})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestBlacklist(t *testing.T) {
	f, err := New(&config.IPFilter{Enabled: true, Blacklist: []string{"*.0.0.2"}})
	require.NoError(t, err)

	for _, tt := range []struct {
		addr   string
		denied bool
	}{
		{"1.0.0.2:4444", true},
		{"9.0.0.2:80", true},
		{"1.0.0.3:4444", false},
		{"", false},
	} {
		req := httptest.NewRequest("GET", "/anything", nil)
		req.RemoteAddr = tt.addr

		ctx := &filtertest.Context{FRequest: req}
		f.Request(ctx)

		assert.Equal(t, tt.denied, ctx.FServed, "addr %q", tt.addr)
		if tt.denied {
			assert.Equal(t, http.StatusForbidden, ctx.FResponse.StatusCode)
			body, _ := io.ReadAll(ctx.FResponse.Body)
			assert.Equal(t, "Access denied", string(body))
		}
	}
}
