/*
Package backend implements the terminal handlers producing responses:
upstream https forwarding, file serving, mock, echo, redirect, command
streaming and the scheduler status surface.

A handler is selected from the endpoint's backend union at startup; the
virtual composite is not a handler here, it re-enters the proxy and is
implemented there.
*/
package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/proxycraft/proxycraft/auth"
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/logging"
	"github.com/proxycraft/proxycraft/metrics"
)

// Handler produces the response for a request routed to its endpoint.
// Cancellation and deadlines arrive through the request context.
type Handler interface {
	Handle(*http.Request) (*http.Response, error)
}

var (
	// ErrNoHandler means the backend union has no active variant.
	ErrNoHandler = errors.New("no backend handler")

	// ErrMethodNotAllowed means the request method is not in the
	// backend's allowed set.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// TimeoutError distinguishes subprocess timeouts from upstream ones for
// status mapping.
type TimeoutError struct {
	Subprocess bool
	Err        error
}

func (e *TimeoutError) Error() string {
	kind := "upstream"
	if e.Subprocess {
		kind = "subprocess"
	}

	return fmt.Sprintf("%s timeout: %v", kind, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Options carries the shared collaborators of all handlers.
type Options struct {
	Version string
	Log     logging.Logger
	Metrics metrics.Metrics
}

// New selects and constructs the handler for the endpoint's backend. The
// first backend is used when several are configured. Returns ErrNoHandler
// when no variant is active.
func New(e *config.Endpoint, o Options) (Handler, error) {
	if o.Log == nil {
		o.Log = &logging.DefaultLog{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Void{}
	}

	b := e.Backend()
	if b == nil {
		return nil, ErrNoHandler
	}

	switch {
	case len(b.HTTPS) > 0:
		provider, err := auth.New(e.Auth)
		if err != nil {
			return nil, err
		}

		return newHTTPS(b.HTTPS.First(), e, provider, o)
	case b.File != nil:
		return newFile(b.File, e, o), nil
	case b.Echo != nil:
		return newEcho(b.Echo, e, o), nil
	case b.Mock != nil:
		return newMock(b.Mock, e, o)
	case b.Redirect != nil:
		return newRedirect(b.Redirect, e, o), nil
	case b.Command != nil:
		return newCommand(b.Command, e, o), nil
	case b.Scheduler != nil:
		return newScheduler(b.Scheduler, o), nil
	default:
		return nil, ErrNoHandler
	}
}

// stripPrefix removes the endpoint prefix from the request path, the
// remainder is the resource path forwarded to the backend.
func stripPrefix(path, prefix string) string {
	return strings.TrimPrefix(path, strings.TrimSuffix(prefix, "/"))
}
