package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/proxycraft/proxycraft/auth"
	"github.com/proxycraft/proxycraft/config"
)

// Timeout profiles. Streaming responses are long-lived, the regular
// profile keeps misbehaving upstreams from pinning connections.
const (
	normalTotalTimeout  = 60 * time.Second
	normalDialTimeout   = 10 * time.Second
	normalHeaderTimeout = 15 * time.Second

	streamTotalTimeout  = 1800 * time.Second
	streamDialTimeout   = 30 * time.Second
	streamHeaderTimeout = 120 * time.Second
)

// headers never forwarded upstream
var stripHeaders = []string{"Host", "Content-Length", "Accept-Encoding", "User-Agent"}

type httpsHandler struct {
	backend  *config.HTTPSBackend
	endpoint *config.Endpoint
	provider auth.Provider
	opts     Options
	methods  map[string]bool

	client       *http.Client
	streamClient *http.Client
}

func newHTTPS(b *config.HTTPSBackend, e *config.Endpoint, provider auth.Provider, o Options) (Handler, error) {
	if b == nil {
		return nil, ErrNoHandler
	}

	h := &httpsHandler{
		backend:  b,
		endpoint: e,
		provider: provider,
		opts:     o,
		methods:  make(map[string]bool),
	}

	for _, m := range b.Methods {
		h.methods[strings.ToUpper(m)] = true
	}

	var tlsConfig *tls.Config
	if !b.SSL {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	h.client = newClient(normalTotalTimeout, normalDialTimeout, normalHeaderTimeout, tlsConfig)
	h.streamClient = newClient(streamTotalTimeout, streamDialTimeout, streamHeaderTimeout, tlsConfig)
	return h, nil
}

func newClient(total, dial, header time.Duration, tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Timeout: total,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: dial}).DialContext,
			ResponseHeaderTimeout: header,
			TLSClientConfig:       tlsConfig,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// target forges the upstream URL. A url ending in '$' is pinned: the
// request path and query are ignored.
func (h *httpsHandler) target(req *http.Request) string {
	u := h.backend.URL
	if strings.HasSuffix(u, "$") {
		return strings.TrimSuffix(u, "$")
	}

	resource := strings.Trim(stripPrefix(req.URL.Path, h.endpoint.Prefix), "/")
	t := strings.TrimSuffix(u, "/") + "/" + resource
	if req.URL.RawQuery != "" {
		t += "?" + req.URL.RawQuery
	}

	return t
}

func (h *httpsHandler) outgoingHeaders(req *http.Request) (http.Header, error) {
	out := make(http.Header)
	for k, vv := range req.Header {
		out[k] = vv
	}

	for _, k := range stripHeaders {
		out.Del(k)
	}

	out.Set("User-Agent", "proxycraft/"+h.opts.Version)
	for k, v := range h.backend.Headers {
		out.Set(k, v)
	}

	if h.provider != nil {
		ah, err := h.provider.GetHeaders()
		if err != nil {
			return nil, fmt.Errorf("auth headers: %w", err)
		}

		for k, v := range ah {
			out.Set(k, v)
		}
	}

	return out, nil
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}

	return false
}

// wantsStream reports whether any Accept value asks for a streamed
// response.
func wantsStream(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		if strings.Contains(strings.TrimSpace(part), "-stream") {
			return true
		}
	}

	return false
}

func (h *httpsHandler) Handle(req *http.Request) (*http.Response, error) {
	if !h.methods[req.Method] {
		return nil, ErrMethodNotAllowed
	}

	headers, err := h.outgoingHeaders(req)
	if err != nil {
		return nil, err
	}

	var body []byte
	if hasBody(req.Method) && req.Body != nil {
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	target := h.target(req)
	if wantsStream(req.Header.Get("Accept")) {
		return h.stream(req.Context(), req.Method, target, headers, body)
	}

	return h.forward(req.Context(), req.Method, target, headers, body)
}

func (h *httpsHandler) send(ctx context.Context, client *http.Client, method, target string, headers http.Header, body []byte) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for k, vv := range headers {
		out.Header[k] = vv
	}

	rsp, err := client.Do(out)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Err: err}
		}

		return nil, err
	}

	return rsp, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// forward performs a buffered upstream call, retrying on the configured
// status codes.
func (h *httpsHandler) forward(ctx context.Context, method, target string, headers http.Header, body []byte) (*http.Response, error) {
	timeout := time.Duration(h.backend.Timeout * float64(time.Second))
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	op := func() (*http.Response, error) {
		rsp, err := h.send(ctx, h.client, method, target, headers, body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		if h.retryOn(rsp.StatusCode) {
			io.Copy(io.Discard, rsp.Body)
			rsp.Body.Close()
			return nil, fmt.Errorf("upstream status %d", rsp.StatusCode)
		}

		return rsp, nil
	}

	var rsp *http.Response
	var err error
	if r := h.backend.Retries; r != nil && r.Count > 0 {
		rsp, err = backoff.Retry(ctx, op,
			backoff.WithBackOff(backoff.NewConstantBackOff(
				time.Duration(r.DelayMS)*time.Millisecond)),
			backoff.WithMaxTries(uint(r.Count)+1))
	} else {
		rsp, err = h.send(ctx, h.client, method, target, headers, body)
	}

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}

		return nil, err
	}

	return h.shape(rsp)
}

func (h *httpsHandler) retryOn(status int) bool {
	r := h.backend.Retries
	if r == nil {
		return false
	}

	for _, s := range r.StatusCodes {
		if s == status {
			return true
		}
	}

	return false
}

// shape buffers the upstream response and routes it by content type.
// Responses without a content type collapse to 204 No Content.
func (h *httpsHandler) shape(rsp *http.Response) (*http.Response, error) {
	ct := rsp.Header.Get("Content-Type")
	if ct == "" {
		io.Copy(io.Discard, rsp.Body)
		rsp.Body.Close()
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}

	body, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading upstream body: %w", err)
	}

	header := rsp.Header.Clone()
	header.Del("Content-Length")
	return &http.Response{
		StatusCode:    rsp.StatusCode,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}, nil
}

// stream opens the upstream call on the long timeout profile and passes
// the body through chunk for chunk.
func (h *httpsHandler) stream(ctx context.Context, method, target string, headers http.Header, body []byte) (*http.Response, error) {
	rsp, err := h.send(ctx, h.streamClient, method, target, headers, body)
	if err != nil {
		return nil, err
	}

	header := rsp.Header.Clone()
	header.Del("Content-Length")
	header.Set("Cache-Control", "no-cache")
	header.Set("Content-Type", "text/octet-stream")
	return &http.Response{
		StatusCode:    rsp.StatusCode,
		Header:        header,
		Body:          rsp.Body,
		ContentLength: -1,
	}, nil
}
