/*
Package proxycraft ties the gateway together: it loads the configuration,
builds the filter chain and the proxy, and runs the listeners.

Run blocks serving the configured addresses. The wildcard route is served
by the proxy, /ws/ accepts and closes websocket connections, and the
support listener exposes the Prometheus metrics.
*/
package proxycraft

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/proxycraft/proxycraft/cache"
	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
	"github.com/proxycraft/proxycraft/filters/botfilter"
	"github.com/proxycraft/proxycraft/filters/breaker"
	"github.com/proxycraft/proxycraft/filters/compress"
	"github.com/proxycraft/proxycraft/filters/contentlength"
	"github.com/proxycraft/proxycraft/filters/filecache"
	"github.com/proxycraft/proxycraft/filters/ipfilter"
	"github.com/proxycraft/proxycraft/filters/memcache"
	"github.com/proxycraft/proxycraft/filters/resource"
	"github.com/proxycraft/proxycraft/filters/transform"
	"github.com/proxycraft/proxycraft/logging"
	"github.com/proxycraft/proxycraft/metrics"
	"github.com/proxycraft/proxycraft/proxy"
	"github.com/proxycraft/proxycraft/routing"
)

const (
	defaultPort    = 8080
	defaultTLSPort = 8443

	certFile = "fullchain.pem"
	keyFile  = "privkey.pem"
)

// Options to start the gateway.
type Options struct {

	// Path of the JSON configuration document.
	ConfigFile string

	// Address of the support listener serving the metrics. Empty
	// disables it.
	SupportListener string

	// Application log level: panic, fatal, error, warn, info, debug or
	// trace.
	ApplicationLogLevel string

	// When set, no access log is printed.
	AccessLogDisabled bool

	// When set, the access log is printed in JSON format.
	AccessLogJSONEnabled bool
}

// newEngine builds the cache engine from the middleware config, nil when
// the file cache is disabled.
func newEngine(c *config.Config, log logging.Logger, m metrics.Metrics) (*cache.Engine, error) {
	if c.Middlewares == nil || c.Middlewares.Performance == nil {
		return nil, nil
	}

	cc := c.Middlewares.Performance.Cache
	if cc == nil || !cc.Enabled || cc.File == nil || !cc.File.Enabled {
		return nil, nil
	}

	f := cc.File
	interval, err := f.CleanupIntervalDuration()
	if err != nil {
		return nil, err
	}

	return cache.New(cache.Options{
		Dir:             f.Path,
		TTL:             f.TTLDuration(),
		MaxEntries:      f.MaxEntries,
		CleanupInterval: interval,
		IncludePatterns: f.IncludePatterns,
		ExcludePatterns: f.ExcludePatterns,
		Log:             log,
		Metrics:         m,
	})
}

// newChain builds the filter chain, outermost first. Disabled filters
// leave no slot behind.
func newChain(c *config.Config, engine *cache.Engine, selector *routing.Selector) ([]filters.Filter, error) {
	var (
		perf *config.Performance
		sec  *config.Security
	)

	if c.Middlewares != nil {
		perf = c.Middlewares.Performance
		sec = c.Middlewares.Security
	}

	var chain []filters.Filter
	add := func(f filters.Filter, err error) error {
		if err != nil {
			return err
		}

		if f != nil {
			chain = append(chain, f)
		}

		return nil
	}

	if perf != nil {
		if err := add(compress.New(perf.Compression), nil); err != nil {
			return nil, err
		}
	}

	chain = append(chain, contentlength.New(), transform.New(selector))

	if perf != nil {
		if err := add(resource.New(perf.ResourceFilter)); err != nil {
			return nil, err
		}
	}

	if sec != nil {
		if err := add(ipfilter.New(sec.IPFilter)); err != nil {
			return nil, err
		}

		if err := add(botfilter.New(sec.BotFilter)); err != nil {
			return nil, err
		}
	}

	if err := add(filecache.New(engine), nil); err != nil {
		return nil, err
	}

	if perf != nil {
		if perf.Cache != nil {
			if err := add(memcache.New(perf.Cache.Memory), nil); err != nil {
				return nil, err
			}
		}

		if err := add(breaker.New(perf.CircuitBreaking), nil); err != nil {
			return nil, err
		}
	}

	return chain, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// websocketStub accepts /ws/{channel} connections and closes them right
// away. Channel proxying is not part of the gateway core.
func websocketStub(log logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channel := strings.TrimPrefix(r.URL.Path, "/ws/")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugf("websocket: upgrade failed: %v", err)
			return
		}

		log.Infof("websocket: closing channel %s", channel)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
}

// Run starts the gateway and blocks until a listener fails.
func Run(o Options) error {
	if err := logging.Init(logging.Options{
		ApplicationLogLevel:  o.ApplicationLogLevel,
		AccessLogDisabled:    o.AccessLogDisabled,
		AccessLogJSONEnabled: o.AccessLogJSONEnabled,
	}); err != nil {
		return err
	}

	log := &logging.DefaultLog{}

	c, err := config.Load(o.ConfigFile)
	if err != nil {
		return err
	}

	log.Infof("starting %s %s, server type %s, workers %d",
		c.Name, c.Version, c.Server.Type, c.Server.Workers)

	selector, err := routing.New(c)
	if err != nil {
		return err
	}

	m := metrics.NewPrometheus()

	engine, err := newEngine(c, log, m)
	if err != nil {
		return err
	}

	if engine != nil {
		defer engine.Close()
	}

	chain, err := newChain(c, engine, selector)
	if err != nil {
		return err
	}

	p, err := proxy.New(proxy.Params{
		Config:            c,
		Selector:          selector,
		Chain:             chain,
		Log:               log,
		Metrics:           m,
		AccessLogDisabled: o.AccessLogDisabled,
		Version:           c.Version,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/", websocketStub(log))
	mux.Handle("/", p)

	if c.Server.Type == "local" {
		log.Info("server type local, not listening")
		return nil
	}

	port := defaultPort
	if c.SSL {
		port = defaultTLSPort
	}

	if c.Server.Port != 0 {
		port = c.Server.Port
	}

	var g errgroup.Group
	address := fmt.Sprintf(":%d", port)
	g.Go(func() error {
		if c.SSL {
			log.Infof("listening on %s with TLS", address)
			return http.ListenAndServeTLS(address, certFile, keyFile, mux)
		}

		log.Infof("listening on %s", address)
		return http.ListenAndServe(address, mux)
	})

	if o.SupportListener != "" {
		support := http.NewServeMux()
		support.Handle("/metrics", m.Handler())
		g.Go(func() error {
			log.Infof("support listener on %s", o.SupportListener)
			return http.ListenAndServe(o.SupportListener, support)
		})
	}

	return g.Wait()
}
