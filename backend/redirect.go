package backend

import (
	"net/http"
	"strings"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

type redirectHandler struct {
	backend  *config.RedirectBackend
	endpoint *config.Endpoint
	opts     Options
}

func newRedirect(b *config.RedirectBackend, e *config.Endpoint, o Options) Handler {
	return &redirectHandler{backend: b, endpoint: e, opts: o}
}

func (h *redirectHandler) Handle(req *http.Request) (*http.Response, error) {
	location := strings.TrimSuffix(h.backend.Location, "/")
	if h.backend.PreservePath {
		path := stripPrefix(req.URL.Path, h.endpoint.Prefix)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		location += path
		if req.URL.RawQuery != "" {
			location += "?" + req.URL.RawQuery
		}
	}

	rsp := filters.TextResponse(h.backend.StatusCode, "")
	rsp.Header.Set("Location", location)
	return rsp, nil
}
