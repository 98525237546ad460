package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycraft/proxycraft/cache"
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
	"github.com/proxycraft/proxycraft/filters/contentlength"
	"github.com/proxycraft/proxycraft/filters/filecache"
	"github.com/proxycraft/proxycraft/filters/ipfilter"
	"github.com/proxycraft/proxycraft/filters/resource"
	"github.com/proxycraft/proxycraft/filters/transform"
	"github.com/proxycraft/proxycraft/routing"
)

func newTestProxy(t *testing.T, doc string, chain ...filters.Filter) *httptest.Server {
	t.Helper()
	c, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	s, err := routing.New(c)
	require.NoError(t, err)

	p, err := New(Params{
		Config:            c,
		Selector:          s,
		Chain:             chain,
		Version:           "1.0.0",
		AccessLogDisabled: true,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	rsp, err := http.Get(url)
	require.NoError(t, err)
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return rsp, string(body)
}

func TestRoutePassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/posts/1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1}`))
	}))
	defer upstream.Close()

	srv := newTestProxy(t, fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"https": {"url": "%s/posts", "ssl": false}}
		}]
	}`, upstream.URL))

	rsp, body := get(t, srv.URL+"/1")
	assert.Equal(t, 200, rsp.StatusCode)
	assert.JSONEq(t, `{"id":1}`, body)
	assert.Equal(t, "proxycraft/1.0.0", rsp.Header.Get("Server"))
	assert.NotEmpty(t, rsp.Header.Get("X-Flow-Id"))
}

func TestNotRouted(t *testing.T) {
	srv := newTestProxy(t, `{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/api", "match": "/api/**",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"echo": {"enabled": true}}
		}]
	}`)

	rsp, body := get(t, srv.URL+"/other")
	assert.Equal(t, 404, rsp.StatusCode)
	assert.JSONEq(t, `{"error": "not found"}`, body)
}

func TestNoHandler(t *testing.T) {
	srv := newTestProxy(t, `{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}}
		}]
	}`)

	rsp, _ := get(t, srv.URL+"/x")
	assert.Equal(t, 500, rsp.StatusCode)
}

func TestMethodGate(t *testing.T) {
	var backendCalled bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendCalled = true
	}))
	defer upstream.Close()

	srv := newTestProxy(t, fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"https": {"url": "%s", "methods": ["GET"]}}
		}]
	}`, upstream.URL))

	rsp, err := http.Post(srv.URL+"/x", "text/plain", nil)
	require.NoError(t, err)
	defer rsp.Body.Close()
	assert.Equal(t, 405, rsp.StatusCode)
	assert.False(t, backendCalled)
}

func TestIPFilterBlock(t *testing.T) {
	f, err := ipfilter.New(&config.IPFilter{Enabled: true, Blacklist: []string{"127.*"}})
	require.NoError(t, err)

	srv := newTestProxy(t, `{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"echo": {"enabled": true}}
		}]
	}`, f)

	rsp, body := get(t, srv.URL+"/anything")
	assert.Equal(t, 403, rsp.StatusCode)
	assert.Equal(t, "Access denied", body)
}

func TestResourceFilterShortCircuit(t *testing.T) {
	f, err := resource.New(&config.ResourceFilter{
		Enabled:   true,
		SkipPaths: []string{"/favicon.ico"},
	})
	require.NoError(t, err)

	srv := newTestProxy(t, `{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"echo": {"enabled": true}}
		}]
	}`, f)

	rsp, _ := get(t, srv.URL+"/favicon.ico")
	assert.Equal(t, 204, rsp.StatusCode)
}

func TestCacheHit(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"n": 1}`))
	}))
	defer upstream.Close()

	engine, err := cache.New(cache.Options{
		Dir:             t.TempDir(),
		TTL:             time.Minute,
		CleanupInterval: time.Hour,
		IncludePatterns: []string{"**/*.json"},
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := newTestProxy(t, fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"https": {"url": "%s"}}
		}]
	}`, upstream.URL), contentlength.New(), filecache.New(engine))

	first, firstBody := get(t, srv.URL+"/x.json")
	assert.Empty(t, first.Header.Get("X-Cache-Status"))

	second, secondBody := get(t, srv.URL+"/x.json")
	assert.Equal(t, "HIT", second.Header.Get("X-Cache-Status"))
	assert.Equal(t, firstBody, secondBody)
	assert.Equal(t, 1, hits)
}

func TestResponseTransform(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello FOO"))
	}))
	defer upstream.Close()

	srv := newTestProxy(t, fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"https": {"url": "%s"}},
			"transformers": {"response": {"enabled": true,
				"textReplacements": [{"oldvalue": "FOO", "newvalue": "BAR-${path}"}]}}
		}]
	}`, upstream.URL), contentlength.New(), transform.New(nil))

	rsp, body := get(t, srv.URL+"/x")
	assert.Equal(t, "hello BAR-/x", body)
	assert.Equal(t, fmt.Sprint(len(body)), rsp.Header.Get("Content-Length"))
}

func TestTransformAppliedOnCacheHit(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello FOO"))
	}))
	defer upstream.Close()

	engine, err := cache.New(cache.Options{
		Dir:             t.TempDir(),
		TTL:             time.Minute,
		CleanupInterval: time.Hour,
		IncludePatterns: []string{"**/*.json"},
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	c, err := config.Parse([]byte(fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/", "match": "**/*",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"https": {"url": "%s"}},
			"transformers": {"response": {"enabled": true,
				"textReplacements": [{"oldvalue": "FOO", "newvalue": "BAR"}]}}
		}]
	}`, upstream.URL)))
	require.NoError(t, err)

	s, err := routing.New(c)
	require.NoError(t, err)

	p, err := New(Params{
		Config:   c,
		Selector: s,
		Chain: []filters.Filter{
			contentlength.New(),
			transform.New(s),
			filecache.New(engine),
		},
		Version:           "1.0.0",
		AccessLogDisabled: true,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(p)
	defer srv.Close()

	first, firstBody := get(t, srv.URL+"/x.json")
	assert.Empty(t, first.Header.Get("X-Cache-Status"))
	assert.Equal(t, "hello BAR", firstBody)

	second, secondBody := get(t, srv.URL+"/x.json")
	assert.Equal(t, "HIT", second.Header.Get("X-Cache-Status"))
	assert.Equal(t, "hello BAR", secondBody)
	assert.Equal(t, 1, hits)
}

func TestVirtualFirstMatch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("remote-body"))
	}))
	defer upstream.Close()

	srv := newTestProxy(t, fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [
			{"prefix": "/local", "match": "/local/**", "identifier": "local",
			 "upstream": {"proxy": {"enabled": true}},
			 "backends": {"file": {"path": "%s", "enabled": true}}},
			{"prefix": "/remote", "match": "/remote/**", "identifier": "remote",
			 "upstream": {"proxy": {"enabled": true}},
			 "backends": {"https": {"url": "%s"}}},
			{"prefix": "/v", "match": "/v/**",
			 "upstream": {"virtual": {"enabled": true,
				"sources": ["local", "remote"]}}}
		]
	}`, t.TempDir(), upstream.URL))

	rsp, body := get(t, srv.URL+"/v/data.txt")
	assert.Equal(t, 200, rsp.StatusCode)
	assert.Equal(t, "remote-body", body)
}

func TestVirtualPrefersFirstSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.txt"),
		[]byte("local-body"), 0o644))

	srv := newTestProxy(t, fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [
			{"prefix": "/local", "match": "/local/**", "identifier": "local",
			 "upstream": {"proxy": {"enabled": true}},
			 "backends": {"file": {"path": "%s", "enabled": true}}},
			{"prefix": "/v", "match": "/v/**",
			 "upstream": {"virtual": {"enabled": true, "sources": ["local"]}}}
		]
	}`, root))

	rsp, body := get(t, srv.URL+"/v/data.txt")
	assert.Equal(t, 200, rsp.StatusCode)
	assert.Equal(t, "local-body", body)
}

func TestVirtualNoSourceAnswers(t *testing.T) {
	srv := newTestProxy(t, fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [
			{"prefix": "/local", "match": "/local/**", "identifier": "local",
			 "upstream": {"proxy": {"enabled": true}},
			 "backends": {"file": {"path": "%s", "enabled": true}}},
			{"prefix": "/v", "match": "/v/**",
			 "upstream": {"virtual": {"enabled": true, "sources": ["local"]}}}
		]
	}`, t.TempDir()))

	rsp, _ := get(t, srv.URL+"/v/missing.txt")
	assert.Equal(t, 404, rsp.StatusCode)
}

func TestVirtualCycle(t *testing.T) {
	srv := newTestProxy(t, `{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/v", "match": "/v/**", "identifier": "v",
			"upstream": {"virtual": {"enabled": true, "sources": ["v"]}}
		}]
	}`)

	rsp, body := get(t, srv.URL+"/v/x")
	assert.Equal(t, 500, rsp.StatusCode)
	assert.Contains(t, body, "cycle")
}

func TestEchoEndToEnd(t *testing.T) {
	srv := newTestProxy(t, `{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/echo", "match": "/echo/**",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"echo": {"enabled": true}}
		}]
	}`, contentlength.New())

	rsp, body := get(t, srv.URL+"/echo/hello?q=1")
	assert.Equal(t, 200, rsp.StatusCode)
	assert.Contains(t, body, `"path":"/hello?q=1"`)
	assert.Contains(t, body, `"method":"GET"`)
}

func TestFileChunking(t *testing.T) {
	root := t.TempDir()
	content := make([]byte, 20000)
	for i := range content {
		content[i] = byte('a' + i%26)
	}

	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), content, 0o644))

	srv := newTestProxy(t, fmt.Sprintf(`{
		"name": "g", "version": "1",
		"endpoints": [{
			"prefix": "/files", "match": "/files/**",
			"upstream": {"proxy": {"enabled": true}},
			"backends": {"file": {"path": "%s", "enabled": true}}
		}]
	}`, root))

	rsp, body := get(t, srv.URL+"/files/big.txt")
	assert.Equal(t, 200, rsp.StatusCode)
	assert.Equal(t, string(content), body)
}
