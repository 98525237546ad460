/*
Package proxy executes the filter chain around the terminal handler:
routing, upstream mode selection and backend dispatch, including the
virtual first-match composite that re-enters the dispatch in-process.
*/
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proxycraft/proxycraft/backend"
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
	"github.com/proxycraft/proxycraft/logging"
	"github.com/proxycraft/proxycraft/metrics"
	"github.com/proxycraft/proxycraft/routing"
)

// flush the streamed response to the client per read of this size
const copyBufferSize = 8192

// Params groups the collaborators of a Proxy.
type Params struct {
	Config            *config.Config
	Selector          *routing.Selector
	Chain             []filters.Filter
	Log               logging.Logger
	Metrics           metrics.Metrics
	AccessLogDisabled bool
	Version           string
}

// Proxy is the http.Handler serving the wildcard route.
type Proxy struct {
	config            *config.Config
	selector          *routing.Selector
	chain             []filters.Filter
	handlers          map[*config.Endpoint]backend.Handler
	log               logging.Logger
	metrics           metrics.Metrics
	accessLogDisabled bool
	version           string
}

// New builds the proxy, constructing one backend handler per endpoint.
// Endpoints without an active backend variant keep a nil handler and
// answer 500 at request time.
func New(p Params) (*Proxy, error) {
	if p.Log == nil {
		p.Log = &logging.DefaultLog{}
	}

	if p.Metrics == nil {
		p.Metrics = metrics.Void{}
	}

	pr := &Proxy{
		config:            p.Config,
		selector:          p.Selector,
		chain:             p.Chain,
		handlers:          make(map[*config.Endpoint]backend.Handler),
		log:               p.Log,
		metrics:           p.Metrics,
		accessLogDisabled: p.AccessLogDisabled,
		version:           p.Version,
	}

	o := backend.Options{Version: p.Version, Log: p.Log, Metrics: p.Metrics}
	for _, e := range p.Config.Endpoints {
		if e.Backend() == nil {
			continue
		}

		h, err := backend.New(e, o)
		if err != nil {
			if err == backend.ErrNoHandler {
				continue
			}

			return nil, fmt.Errorf("endpoint %s: %w", e.Prefix, err)
		}

		pr.handlers[e] = h
	}

	return pr, nil
}

var errCycle = errors.New("virtual source cycle")

// proxyError maps a failure to the client response.
type proxyError struct {
	err    error
	code   int
	header http.Header
}

func (e *proxyError) Error() string {
	return fmt.Sprintf("proxy error: %v, code: %d", e.err, e.code)
}

func newError(code int, err error) *proxyError {
	return &proxyError{err: err, code: code}
}

func (p *Proxy) errorResponse(err error) *http.Response {
	pe, ok := err.(*proxyError)
	if !ok {
		pe = newError(http.StatusInternalServerError, err)
	}

	msg := http.StatusText(pe.code)
	if pe.err != nil {
		msg = pe.err.Error()
	}

	body, _ := json.Marshal(map[string]string{"error": msg})
	rsp := filters.JSONResponse(pe.code, body)
	for k, vv := range pe.header {
		rsp.Header[k] = vv
	}

	return rsp
}

func (p *Proxy) tryCatch(fn func(), what string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("%s: panic: %v\n%s", what, r, debug.Stack())
		}
	}()

	fn()
}

// applyFiltersToRequest runs the request direction, stopping at a
// short-circuit. It returns the filters that ran, the response direction
// runs over exactly those.
func (p *Proxy) applyFiltersToRequest(ctx *context) []filters.Filter {
	var ran []filters.Filter
	for _, f := range p.chain {
		ran = append(ran, f)
		p.tryCatch(func() { f.Request(ctx) }, "filter request")
		if ctx.served {
			break
		}
	}

	return ran
}

func (p *Proxy) applyFiltersToResponse(ctx *context, ran []filters.Filter) {
	for i := len(ran) - 1; i >= 0; i-- {
		f := ran[i]
		p.tryCatch(func() { f.Response(ctx) }, "filter response")
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p.metrics.IncCounter("incoming")

	ctx := newContext(r, p)
	ran := p.applyFiltersToRequest(ctx)
	if !ctx.served {
		rsp, err := p.do(ctx)
		if err != nil {
			p.log.Errorf("serving %s %s: %v", r.Method, r.URL.Path, err)
			rsp = p.errorResponse(err)
		}

		ctx.response = rsp
	}

	p.applyFiltersToResponse(ctx, ran)

	rsp := ctx.response
	p.addBranding(rsp)
	size := p.serveResponse(w, rsp)

	p.metrics.MeasureServe(r.Method, rsp.StatusCode, start)
	if !p.accessLogDisabled {
		logging.LogAccess(&logging.AccessEntry{
			Method:       r.Method,
			Path:         r.URL.RequestURI(),
			StatusCode:   rsp.StatusCode,
			ResponseSize: size,
			RemoteAddr:   r.RemoteAddr,
			FlowID:       rsp.Header.Get("X-Flow-Id"),
			Duration:     time.Since(start),
		})
	}
}

func (p *Proxy) addBranding(rsp *http.Response) {
	rsp.Header.Set("Server", "proxycraft/"+p.version)
	if rsp.Header.Get("X-Flow-Id") == "" {
		rsp.Header.Set("X-Flow-Id", uuid.NewString())
	}
}

func (p *Proxy) serveResponse(w http.ResponseWriter, rsp *http.Response) int64 {
	defer rsp.Body.Close()

	for k, vv := range rsp.Header {
		w.Header()[k] = vv
	}

	w.WriteHeader(rsp.StatusCode)
	n, err := copyStream(w, rsp.Body)
	if err != nil {
		p.log.Debugf("streaming response: %v", err)
	}

	return n
}

// copyStream forwards the body chunk for chunk, flushing after each
// write so that streamed bodies reach the client as they arrive.
func copyStream(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)

	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}

			if flusher != nil {
				flusher.Flush()
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}

			return written, rerr
		}
	}
}

// do is the terminal handler: select the endpoint, pick the upstream
// mode, dispatch.
func (p *Proxy) do(ctx *context) (*http.Response, error) {
	e, err := p.selector.Select(ctx.request.URL.Path)
	if err != nil {
		p.metrics.IncRoutingFailure()
		return nil, newError(http.StatusNotFound, fmt.Errorf("not found"))
	}

	ctx.stateBag[filters.EndpointKey] = e

	switch {
	case e.Upstream.Proxy != nil && e.Upstream.Proxy.Enabled:
		return p.dispatch(ctx, e)
	case e.Upstream.Virtual != nil && e.Upstream.Virtual.Enabled:
		return p.virtual(ctx, e)
	default:
		return nil, newError(http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (p *Proxy) dispatch(ctx *context, e *config.Endpoint) (*http.Response, error) {
	h := p.handlers[e]
	if h == nil {
		return nil, newError(http.StatusInternalServerError,
			fmt.Errorf("no backend handler for %s", e.Prefix))
	}

	start := time.Now()
	rsp, err := h.Handle(ctx.request)
	p.metrics.MeasureBackend(backendKind(e), start)
	if err != nil {
		p.metrics.IncBackendError(backendKind(e))
		return nil, mapBackendError(err)
	}

	return rsp, nil
}

func mapBackendError(err error) error {
	switch t := err.(type) {
	case *backend.TimeoutError:
		if t.Subprocess {
			return newError(http.StatusRequestTimeout, err)
		}

		return newError(http.StatusGatewayTimeout, err)
	}

	if err == backend.ErrMethodNotAllowed {
		return newError(http.StatusMethodNotAllowed,
			fmt.Errorf("method not allowed"))
	}

	return newError(http.StatusInternalServerError, err)
}

func backendKind(e *config.Endpoint) string {
	b := e.Backend()
	if b == nil {
		return "none"
	}

	switch {
	case len(b.HTTPS) > 0:
		return "https"
	case b.File != nil:
		return "file"
	case b.Echo != nil:
		return "echo"
	case b.Mock != nil:
		return "mock"
	case b.Redirect != nil:
		return "redirect"
	case b.Command != nil:
		return "command"
	case b.Scheduler != nil:
		return "scheduler"
	}

	return "none"
}

// virtual tries the source endpoints in order, returning the first 200
// response. Non-200 results move on to the next source; no source
// answering 200 means 404. A source chain that loops back fails with 500.
func (p *Proxy) virtual(ctx *context, e *config.Endpoint) (*http.Response, error) {
	if e.Identifier != "" && ctx.onStack(e.Identifier) {
		return nil, newError(http.StatusInternalServerError,
			fmt.Errorf("%w through %s", errCycle, e.Identifier))
	}

	resource := strings.TrimPrefix(ctx.request.URL.Path,
		strings.TrimSuffix(e.Prefix, "/"))

	for _, source := range e.Upstream.Virtual.Sources {
		se, ok := p.selector.ByIdentifier(source)
		if !ok {
			p.log.Warnf("virtual: unknown source %s", source)
			continue
		}

		target := strings.TrimSuffix(se.Prefix, "/") + resource
		req := ctx.request.Clone(ctx.request.Context())
		req.URL.Path = target

		sub := ctx.clone(req, e.Identifier)
		rsp, err := p.do(sub)
		if err != nil {
			if pe := (*proxyError)(nil); errors.As(err, &pe) && errors.Is(pe.err, errCycle) {
				return nil, err
			}

			p.log.Debugf("virtual: source %s: %v", source, err)
			continue
		}

		if rsp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, rsp.Body)
			rsp.Body.Close()
			continue
		}

		if rsp.Header.Get("Content-Type") == "" {
			rsp.Header.Set("Content-Type", "application/text")
		}

		return rsp, nil
	}

	return nil, newError(http.StatusNotFound, fmt.Errorf("not found"))
}
