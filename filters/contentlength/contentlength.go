// Package contentlength rewrites the Content-Length of buffered responses
// so that it exactly matches the body being sent. Streaming responses,
// recognized by an unknown content length, pass through untouched.
package contentlength

import (
	"bytes"
	"io"
	"strconv"

	"github.com/proxycraft/proxycraft/filters"
)

type filter struct {
	filters.Noop
}

func New() filters.Filter {
	return &filter{}
}

func (f *filter) Response(ctx filters.FilterContext) {
	rsp := ctx.Response()
	if rsp.ContentLength < 0 {
		return
	}

	body, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	if err != nil {
		ctx.Logger().Errorf("contentlength: reading body: %v", err)
		body = nil
	}

	rsp.Body = io.NopCloser(bytes.NewReader(body))
	rsp.ContentLength = int64(len(body))
	rsp.Header.Set("Content-Length", strconv.Itoa(len(body)))
}
