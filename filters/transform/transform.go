// Package transform applies the matched endpoint's literal text
// replacements to response bodies.
package transform

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
	"github.com/proxycraft/proxycraft/routing"
)

type filter struct {
	filters.Noop
	selector *routing.Selector
}

// New returns the response transformer filter. The replacements applied
// come from the endpoint matched by the terminal handler, so a single
// instance serves all endpoints. When the chain short-circuits before
// routing ran, e.g. on a cache hit, the endpoint is resolved from the
// selector instead, so hits and misses transform alike.
func New(selector *routing.Selector) filters.Filter {
	return &filter{selector: selector}
}

func (f *filter) endpointTransformer(ctx filters.FilterContext) *config.ResponseTransformer {
	e, _ := ctx.StateBag()[filters.EndpointKey].(*config.Endpoint)
	if e == nil && f.selector != nil {
		if se, err := f.selector.Select(ctx.Request().URL.Path); err == nil {
			e = se
		}
	}

	if e == nil || e.Transformers == nil {
		return nil
	}

	t := e.Transformers.Response
	if t == nil || !t.Enabled || len(t.TextReplacements) == 0 {
		return nil
	}

	return t
}

func (f *filter) Response(ctx filters.FilterContext) {
	t := f.endpointTransformer(ctx)
	if t == nil {
		return
	}

	rsp := ctx.Response()
	body, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	if err != nil {
		ctx.Logger().Errorf("transform: reading body: %v", err)
		rsp.Body = io.NopCloser(bytes.NewReader(nil))
		rsp.ContentLength = 0
		return
	}

	if !utf8.Valid(body) {
		rsp.Body = io.NopCloser(bytes.NewReader(body))
		return
	}

	text := string(body)
	path := ctx.Request().URL.Path
	for _, r := range t.TextReplacements {
		replacement := strings.ReplaceAll(r.NewValue, "${path}", path)
		text = strings.ReplaceAll(text, r.OldValue, replacement)
	}

	body = []byte(text)
	rsp.Body = io.NopCloser(bytes.NewReader(body))
	rsp.ContentLength = int64(len(body))
}
