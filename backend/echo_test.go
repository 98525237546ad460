package backend

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycraft/proxycraft/config"
)

func TestEchoRoundTrip(t *testing.T) {
	h := newEcho(&config.EchoBackend{
		Enabled:    true,
		AddHeaders: map[string]string{"X-Time": "at-${timestamp}"},
	}, &config.Endpoint{Prefix: "/echo"}, Options{}).(*echoHandler)
	h.now = func() time.Time { return time.Unix(1700000000, 0) }

	req := httptest.NewRequest("POST", "/echo/some/path?a=1&b=2&b=3",
		strings.NewReader("payload"))
	req.Header.Set("X-Custom", "value")
	req.Header.Set("Cookie", "session=abc")
	req.RemoteAddr = "10.1.2.3:5555"

	rsp, err := h.Handle(req)
	require.NoError(t, err)
	assert.Equal(t, 200, rsp.StatusCode)
	assert.Equal(t, "application/json", rsp.Header.Get("Content-Type"))

	var e echoBody
	b, _ := io.ReadAll(rsp.Body)
	require.NoError(t, json.Unmarshal(b, &e))

	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "/some/path?a=1&b=2&b=3", e.Path)
	assert.Equal(t, "10.1.2.3", e.Client)
	assert.Equal(t, "payload", e.Body)
	assert.Equal(t, "value", e.Headers["x-custom"])
	assert.Equal(t, "at-1700000000", e.Headers["x-time"])
	assert.Equal(t, "abc", e.Cookies["session"])

	// repeated query keys come back as arrays
	assert.Equal(t, "1", e.Query["a"])
	assert.Equal(t, []interface{}{"2", "3"}, e.Query["b"])
}

func TestEchoDelay(t *testing.T) {
	h := newEcho(&config.EchoBackend{Enabled: true, ResponseDelayMS: 10},
		&config.Endpoint{Prefix: "/"}, Options{})

	start := time.Now()
	_, err := h.Handle(httptest.NewRequest("GET", "/x", nil))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
