// Package filecache serves cacheable GET requests from the cache engine
// and admits fresh responses into it.
//
// On the request path a fresh entry short-circuits the chain with
// x-cache-status: HIT. On the response path the body is teed while it
// streams to the client; the entry is admitted only after the body was
// read to the end, so canceled requests never admit partial responses.
package filecache

import (
	"bytes"
	"io"
	"net/http"

	"github.com/proxycraft/proxycraft/cache"
	"github.com/proxycraft/proxycraft/filters"
)

type filter struct {
	engine *cache.Engine
}

// New returns the cache filter over engine, nil when engine is nil.
func New(engine *cache.Engine) filters.Filter {
	if engine == nil {
		return nil
	}

	return &filter{engine: engine}
}

func (f *filter) Request(ctx filters.FilterContext) {
	req := ctx.Request()
	if !f.engine.Cacheable(req.Method, req.URL.Path) {
		return
	}

	key := cache.Key(req.URL.Path, req.URL.RawQuery)
	ctx.StateBag()[filters.CacheKeyKey] = key

	entry := f.engine.Lookup(key)
	if entry == nil {
		return
	}

	ctx.StateBag()[filters.CacheHitKey] = true
	ctx.Serve(hitResponse(entry))
}

func hitResponse(entry *cache.Entry) *http.Response {
	h := make(http.Header)
	for k, v := range entry.Headers {
		h.Set(k, v)
	}

	h.Del("Content-Length")
	h.Set("X-Cache-Status", "HIT")
	return filters.NewResponse(entry.StatusCode, h, entry.Content)
}

func (f *filter) Response(ctx filters.FilterContext) {
	if hit, _ := ctx.StateBag()[filters.CacheHitKey].(bool); hit {
		return
	}

	key, _ := ctx.StateBag()[filters.CacheKeyKey].(string)
	if key == "" {
		return
	}

	rsp := ctx.Response()
	if !cache.Admittable(rsp.StatusCode) {
		return
	}

	rsp.Body = &admitter{
		body:    rsp.Body,
		engine:  f.engine,
		key:     key,
		status:  rsp.StatusCode,
		headers: flatten(rsp.Header),
	}
}

func flatten(h http.Header) map[string]string {
	m := make(map[string]string, len(h))
	for k := range h {
		m[k] = h.Get(k)
	}

	return m
}

// admitter tees the response body and admits the entry once the body was
// fully consumed.
type admitter struct {
	body    io.ReadCloser
	engine  *cache.Engine
	key     string
	status  int
	headers map[string]string

	buf      bytes.Buffer
	admitted bool
}

func (a *admitter) Read(p []byte) (int, error) {
	n, err := a.body.Read(p)
	if n > 0 {
		a.buf.Write(p[:n])
	}

	if err == io.EOF && !a.admitted {
		a.admitted = true
		a.engine.Admit(a.key, a.status, a.headers, a.buf.Bytes())
	}

	return n, err
}

func (a *admitter) Close() error {
	return a.body.Close()
}
