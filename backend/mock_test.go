package backend

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycraft/proxycraft/config"
)

func mockFor(t *testing.T, doc string) Handler {
	t.Helper()
	c, err := config.Parse([]byte(`{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/mock",
			"match": "/mock/**",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"mock": ` + doc + `}
		}]
	}`))
	require.NoError(t, err)

	e := c.Endpoints[0]
	h, err := New(e, Options{})
	require.NoError(t, err)
	return h
}

func TestMockFirstMatchWins(t *testing.T) {
	h := mockFor(t, `{
		"enabled": true,
		"path_templates": {
			"/users/**": {"status_code": 200, "body": {"role": "user"}},
			"/users/admin": {"status_code": 403}
		},
		"default_response": {"status_code": 404, "body": {"error": "nope"}}
	}`)

	// both patterns match, the first configured one wins
	rsp, err := h.Handle(httptest.NewRequest("GET", "/mock/users/admin", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, rsp.StatusCode)

	body, _ := io.ReadAll(rsp.Body)
	assert.JSONEq(t, `{"role": "user"}`, string(body))
}

func TestMockDefaultResponse(t *testing.T) {
	h := mockFor(t, `{
		"enabled": true,
		"path_templates": {"/known/": {"status_code": 200}},
		"default_response": {"status_code": 418, "body": {"error": "teapot"},
			"headers": {"X-Mock": "default"}}
	}`)

	rsp, err := h.Handle(httptest.NewRequest("GET", "/mock/unknown", nil))
	require.NoError(t, err)
	assert.Equal(t, 418, rsp.StatusCode)
	assert.Equal(t, "default", rsp.Header.Get("X-Mock"))
	assert.Equal(t, "application/json", rsp.Header.Get("Content-Type"))
}

func TestMockTextBody(t *testing.T) {
	h := mockFor(t, `{
		"enabled": true,
		"path_templates": {
			"/hello": {"status_code": 200, "content_type": "text/plain",
				"body": "hi there"}
		}
	}`)

	rsp, err := h.Handle(httptest.NewRequest("GET", "/mock/hello", nil))
	require.NoError(t, err)

	body, _ := io.ReadAll(rsp.Body)
	assert.Equal(t, "hi there", string(body))
}

func TestMockNoTemplate(t *testing.T) {
	h := mockFor(t, `{"enabled": true, "path_templates": {"/known/": {}}}`)

	rsp, err := h.Handle(httptest.NewRequest("GET", "/mock/unknown", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, rsp.StatusCode)
}
