package backend

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/proxycraft/proxycraft/antpath"
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

type mockTemplate struct {
	pattern  *antpath.Pattern
	template *config.MockTemplate
}

type mockHandler struct {
	endpoint  *config.Endpoint
	templates []mockTemplate
	fallback  *config.MockTemplate
	opts      Options
}

func newMock(b *config.MockBackend, e *config.Endpoint, o Options) (Handler, error) {
	h := &mockHandler{endpoint: e, fallback: b.DefaultResponse, opts: o}
	for _, t := range b.PathTemplates {
		p, err := antpath.Compile(t.Pattern)
		if err != nil {
			return nil, err
		}

		h.templates = append(h.templates, mockTemplate{pattern: p, template: t.Template})
	}

	return h, nil
}

func (h *mockHandler) Handle(req *http.Request) (*http.Response, error) {
	path := stripPrefix(req.URL.Path, h.endpoint.Prefix)

	template := h.fallback
	for _, t := range h.templates {
		if t.pattern.Match(path) {
			template = t.template
			break
		}
	}

	if template == nil {
		return filters.TextResponse(http.StatusNotFound, "Not Found"), nil
	}

	if d := template.DelayMS; d > 0 {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(time.Duration(d) * time.Millisecond):
		}
	}

	header := make(http.Header)
	for k, v := range template.Headers {
		header.Set(k, v)
	}

	header.Set("Content-Type", template.ContentType)
	return filters.NewResponse(template.StatusCode, header, templateBody(template)), nil
}

// templateBody renders the configured body: JSON content types get the
// raw document, anything else a JSON string is unquoted into plain text.
func templateBody(t *config.MockTemplate) []byte {
	if len(t.Body) == 0 {
		return nil
	}

	if strings.Contains(t.ContentType, "json") {
		return t.Body
	}

	var s string
	if err := json.Unmarshal(t.Body, &s); err == nil {
		return []byte(s)
	}

	return t.Body
}
