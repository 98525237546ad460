package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/proxycraft/proxycraft/antpath"
)

var serverTypes = map[string]bool{
	"uvicorn":   true,
	"gunicorn":  true,
	"hypercorn": true,
	"granian":   true,
	"robyn":     true,
	"local":     true,
}

// Load reads and parses the configuration document at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return c, nil
}

// Parse unmarshals, validates and normalizes a configuration document.
// The returned tree is sorted by endpoint weight, descending and stable,
// and must not be mutated afterwards.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	sort.SliceStable(c.Endpoints, func(i, j int) bool {
		return c.Endpoints[i].Weight > c.Endpoints[j].Weight
	})

	return &c, nil
}

func (c *Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}

	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if c.Server.Type != "" && !serverTypes[c.Server.Type] {
		return fmt.Errorf("unsupported server type: %s", c.Server.Type)
	}

	if c.Server.Workers < 0 {
		return fmt.Errorf("server workers must be >= 1")
	}

	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}

	if err := c.validateMiddlewares(); err != nil {
		return err
	}

	for i, e := range c.Endpoints {
		if err := e.validate(); err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
	}

	return nil
}

func (c *Config) validateMiddlewares() error {
	if c.Middlewares == nil || c.Middlewares.Performance == nil {
		return nil
	}

	p := c.Middlewares.Performance
	if p.Cache != nil && p.Cache.File != nil {
		f := p.Cache.File
		if f.Enabled && f.Path == "" {
			return fmt.Errorf("file cache requires a path")
		}

		if _, err := f.CleanupIntervalDuration(); err != nil {
			return fmt.Errorf("file cache cleanup_interval: %w", err)
		}

		for _, pat := range f.IncludePatterns {
			if _, err := antpath.Compile(pat); err != nil {
				return fmt.Errorf("file cache include pattern: %w", err)
			}
		}

		for _, pat := range f.ExcludePatterns {
			if _, err := antpath.Compile(pat); err != nil {
				return fmt.Errorf("file cache exclude pattern: %w", err)
			}
		}
	}

	return nil
}

func (e *Endpoint) validate() error {
	if e.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}

	if e.Match != "" {
		if _, err := antpath.Compile(e.Match); err != nil {
			return err
		}
	}

	if n := e.Upstream.enabledModes(); n != 1 {
		return fmt.Errorf("exactly one upstream mode must be enabled, got %d", n)
	}

	if v := e.Upstream.Virtual; v != nil && v.Enabled {
		if v.Strategy != "first-match" {
			return fmt.Errorf("unsupported virtual strategy: %s", v.Strategy)
		}

		if len(v.Sources) == 0 {
			return fmt.Errorf("virtual upstream requires sources")
		}
	}

	for i, b := range e.Backends {
		if err := b.validate(); err != nil {
			return fmt.Errorf("backend %d: %w", i, err)
		}
	}

	if a := e.Auth; a != nil {
		switch a.Type {
		case "basic":
			if a.Username == "" {
				return fmt.Errorf("basic auth requires a username")
			}
		case "jwt":
			if a.Secret == "" {
				return fmt.Errorf("jwt auth requires a secret")
			}
		case "":
		default:
			return fmt.Errorf("unsupported auth type: %s", a.Type)
		}
	}

	return nil
}

func (u *Upstream) enabledModes() int {
	var n int
	if u.Proxy != nil && u.Proxy.Enabled {
		n++
	}

	if u.Virtual != nil && u.Virtual.Enabled {
		n++
	}

	for _, t := range []*FeatureToggle{u.Websocket, u.GraphQL, u.ServiceMesh, u.Function} {
		if t != nil && t.Enabled {
			n++
		}
	}

	return n
}

func (b *Backend) validate() error {
	var n int
	if len(b.HTTPS) > 0 {
		n++
		for _, h := range b.HTTPS {
			if h.URL == "" {
				return fmt.Errorf("https backend requires a url")
			}
		}
	}

	if b.File != nil {
		n++
		if b.File.Path == "" {
			return fmt.Errorf("file backend requires a path")
		}
	}

	if b.Echo != nil {
		n++
	}

	if b.Mock != nil {
		n++
		for _, t := range b.Mock.PathTemplates {
			if _, err := antpath.Compile(t.Pattern); err != nil {
				return err
			}
		}
	}

	if b.Redirect != nil {
		n++
		if b.Redirect.Location == "" {
			return fmt.Errorf("redirect backend requires a location")
		}
	}

	if b.Command != nil {
		n++
		if b.Command.Default == "" {
			return fmt.Errorf("command backend requires a default command")
		}
	}

	if b.Scheduler != nil {
		n++
		for name, j := range b.Scheduler.CronJobs {
			if err := validateCron(j.Schedule); err != nil {
				return fmt.Errorf("cron job %s: %w", name, err)
			}
		}
	}

	if n != 1 {
		return fmt.Errorf("exactly one backend variant must be set, got %d", n)
	}

	return nil
}

var cronRanges = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

func validateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("schedule %q must have 5 fields", expr)
	}

	for i, f := range fields {
		if f == "*" {
			continue
		}

		r := cronRanges[i]
		v, err := strconv.Atoi(f)
		if err != nil || v < r.min || v > r.max {
			return fmt.Errorf("schedule %q: invalid %s field %q", expr, r.name, f)
		}
	}

	return nil
}
