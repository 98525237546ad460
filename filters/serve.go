package filters

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// NewResponse builds an in-memory response suitable for Serve.
func NewResponse(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = make(http.Header)
	}

	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// TextResponse builds a plain text response suitable for Serve.
func TextResponse(status int, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return NewResponse(status, h, []byte(body))
}

// JSONResponse builds an application/json response suitable for Serve.
func JSONResponse(status int, body []byte) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return NewResponse(status, h, body)
}
