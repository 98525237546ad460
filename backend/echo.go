package backend

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

type echoHandler struct {
	backend  *config.EchoBackend
	endpoint *config.Endpoint
	opts     Options

	now func() time.Time
}

func newEcho(b *config.EchoBackend, e *config.Endpoint, o Options) Handler {
	return &echoHandler{backend: b, endpoint: e, opts: o, now: time.Now}
}

// echoBody is the reflected request.
type echoBody struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Client  string            `json:"client"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Query   map[string]any    `json:"query_params"`
	Cookies map[string]string `json:"cookies"`
}

func (h *echoHandler) Handle(req *http.Request) (*http.Response, error) {
	if d := h.backend.ResponseDelayMS; d > 0 {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(time.Duration(d) * time.Millisecond):
		}
	}

	path := stripPrefix(req.URL.Path, h.endpoint.Prefix)
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	client, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		client = req.RemoteAddr
	}

	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[strings.ToLower(k)] = req.Header.Get(k)
	}

	timestamp := strconv.FormatInt(h.now().Unix(), 10)
	for k, v := range h.backend.AddHeaders {
		headers[strings.ToLower(k)] = strings.ReplaceAll(v, "${timestamp}", timestamp)
	}

	var body []byte
	if req.Body != nil {
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, err
		}
	}

	// repeated query keys come back as arrays
	query := make(map[string]any)
	for k, vv := range req.URL.Query() {
		if len(vv) == 1 {
			query[k] = vv[0]
		} else {
			query[k] = vv
		}
	}

	cookies := make(map[string]string)
	for _, c := range req.Cookies() {
		cookies[c.Name] = c.Value
	}

	b, err := json.Marshal(echoBody{
		Method:  req.Method,
		Path:    path,
		Client:  client,
		Headers: headers,
		Body:    string(body),
		Query:   query,
		Cookies: cookies,
	})
	if err != nil {
		return nil, err
	}

	return filters.JSONResponse(http.StatusOK, b), nil
}
