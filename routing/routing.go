// Package routing selects the endpoint serving a request path.
package routing

import (
	"errors"
	"strings"

	"github.com/proxycraft/proxycraft/antpath"
	"github.com/proxycraft/proxycraft/config"
)

// ErrNotRouted is returned when no endpoint matches the request path.
var ErrNotRouted = errors.New("no endpoint matches")

type route struct {
	endpoint *config.Endpoint
	pattern  *antpath.Pattern
}

// Selector matches request paths against the endpoint table. Endpoints are
// tried in config order, which is weight-descending after load; the first
// match wins. Safe for concurrent use.
type Selector struct {
	routes       []route
	byIdentifier map[string]*config.Endpoint
}

// New compiles the endpoint patterns of c into a selector. Endpoints whose
// match pattern is empty fall back to their prefix.
func New(c *config.Config) (*Selector, error) {
	s := &Selector{byIdentifier: make(map[string]*config.Endpoint)}
	for _, e := range c.Endpoints {
		pattern := e.Match
		if pattern == "" {
			pattern = e.Prefix
		}

		p, err := antpath.Compile(pattern)
		if err != nil {
			return nil, err
		}

		s.routes = append(s.routes, route{endpoint: e, pattern: p})
		if e.Identifier != "" {
			s.byIdentifier[e.Identifier] = e
		}
	}

	return s, nil
}

// Normalize terminates path with a trailing slash, the form the endpoint
// patterns are written for.
func Normalize(path string) string {
	if !strings.HasSuffix(path, "/") {
		return path + "/"
	}

	return path
}

// Select returns the first endpoint matching the normalized path, or
// ErrNotRouted.
func (s *Selector) Select(path string) (*config.Endpoint, error) {
	path = Normalize(path)
	for _, r := range s.routes {
		if r.pattern.Match(path) {
			return r.endpoint, nil
		}
	}

	return nil, ErrNotRouted
}

// ByIdentifier resolves an endpoint by its identifier, used by virtual
// upstream source references.
func (s *Selector) ByIdentifier(id string) (*config.Endpoint, bool) {
	e, ok := s.byIdentifier[id]
	return e, ok
}
