/*
Package antpath implements Ant-style path pattern matching.

Supported wildcards:

  - '?' matches exactly one character within a path segment
  - '*' matches zero or more characters within a path segment
  - '**' matches zero or more complete path segments
  - '{name}' matches one segment and captures it under name

Patterns compile to regular expressions once; Matcher keeps a compiled
pattern cache so that repeated matching against the same pattern, e.g.
filter deny lists or mock templates, does not recompile.
*/
package antpath

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Pattern is a compiled Ant-style path pattern.
type Pattern struct {
	source string
	rx     *regexp.Regexp
	names  []string
}

var namedSegment = regexp.MustCompile(`^\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Compile translates an Ant-style pattern into its compiled form.
func Compile(pattern string) (*Pattern, error) {
	var (
		b     strings.Builder
		names []string
	)

	b.WriteString("^")
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			b.WriteString("[^/]")
			i++
		case pattern[i] == '{':
			m := namedSegment.FindStringSubmatch(pattern[i:])
			if m == nil {
				return nil, fmt.Errorf("antpath: malformed capture in pattern %q", pattern)
			}

			names = append(names, m[1])
			fmt.Fprintf(&b, "(?P<%s>[^/]+)", m[1])
			i += len(m[0])
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}

	b.WriteString("$")
	rx, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("antpath: cannot compile pattern %q: %w", pattern, err)
	}

	return &Pattern{source: pattern, rx: rx, names: names}, nil
}

// MustCompile is like Compile but panics on invalid patterns. Intended for
// patterns that were validated at config load.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}

	return p
}

func (p *Pattern) String() string { return p.source }

// Match reports whether path matches the pattern.
func (p *Pattern) Match(path string) bool {
	return p.rx.MatchString(path)
}

// Extract returns the named bindings for path, or nil if path does not
// match the pattern.
func (p *Pattern) Extract(path string) map[string]string {
	m := p.rx.FindStringSubmatch(path)
	if m == nil {
		return nil
	}

	bindings := make(map[string]string, len(p.names))
	for i, name := range p.rx.SubexpNames() {
		if name != "" && i < len(m) {
			bindings[name] = m[i]
		}
	}

	return bindings
}

// Matcher matches paths against Ant-style patterns, caching compiled
// patterns. The zero value is ready to use and safe for concurrent use.
type Matcher struct {
	cache sync.Map // pattern string -> *Pattern
}

func (m *Matcher) compiled(pattern string) (*Pattern, error) {
	if p, ok := m.cache.Load(pattern); ok {
		return p.(*Pattern), nil
	}

	p, err := Compile(pattern)
	if err != nil {
		return nil, err
	}

	m.cache.Store(pattern, p)
	return p, nil
}

// Match reports whether path matches pattern. Invalid patterns never match.
func (m *Matcher) Match(pattern, path string) bool {
	p, err := m.compiled(pattern)
	if err != nil {
		return false
	}

	return p.Match(path)
}

// Extract returns the named bindings of pattern applied to path, or nil on
// no match or invalid pattern.
func (m *Matcher) Extract(pattern, path string) map[string]string {
	p, err := m.compiled(pattern)
	if err != nil {
		return nil
	}

	return p.Extract(path)
}
