/*
Package config defines the typed configuration tree of the proxy.

The configuration is loaded once at startup from a JSON document and is
treated as immutable afterwards. Defaults are applied during unmarshaling,
validation failures are fatal, and the endpoints are sorted by weight in
descending order, preserving the configured order for equal weights.
*/
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Config is the root of the configuration tree.
type Config struct {
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	Server      ServerConfig `json:"server"`
	SSL         bool         `json:"ssl"`
	Middlewares *Middlewares `json:"middlewares"`
	Endpoints   []*Endpoint  `json:"endpoints"`
}

// ServerConfig selects and tunes the hosting HTTP server.
type ServerConfig struct {
	Type    string `json:"type"`
	Workers int    `json:"workers"`
	Port    int    `json:"port"`
}

// Endpoint is one entry of the routing table.
type Endpoint struct {
	Prefix       string        `json:"prefix"`
	Match        string        `json:"match"`
	Identifier   string        `json:"identifier"`
	Weight       int           `json:"weight"`
	Upstream     Upstream      `json:"upstream"`
	Backends     BackendList   `json:"backends"`
	Transformers *Transformers `json:"transformers"`
	Auth         *Auth         `json:"auth"`
	Timeout      float64       `json:"timeout"`
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	type endpoint Endpoint
	v := endpoint{Weight: 100, Timeout: 30}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*e = Endpoint(v)
	return nil
}

// TimeoutDuration returns the endpoint timeout as a duration.
func (e *Endpoint) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout * float64(time.Second))
}

// Backend returns the selected backend of the endpoint: the first one when
// multiple are configured, nil when none.
func (e *Endpoint) Backend() *Backend {
	if len(e.Backends) == 0 {
		return nil
	}

	return e.Backends[0]
}

// Upstream selects the dispatch mode of an endpoint. Exactly one variant is
// enabled.
type Upstream struct {
	Proxy       *ProxyUpstream   `json:"proxy"`
	Virtual     *VirtualUpstream `json:"virtual"`
	Websocket   *FeatureToggle   `json:"websocket"`
	GraphQL     *FeatureToggle   `json:"graphql"`
	ServiceMesh *FeatureToggle   `json:"service_mesh"`
	Function    *FeatureToggle   `json:"function"`
}

// ProxyUpstream dispatches to the endpoint's own backend.
type ProxyUpstream struct {
	Enabled        bool `json:"enabled"`
	TimeoutSeconds int  `json:"timeout_seconds"`
}

// VirtualUpstream dispatches across other endpoints referenced by
// identifier, trying them in order.
type VirtualUpstream struct {
	Enabled  bool     `json:"enabled"`
	Strategy string   `json:"strategy"`
	Sources  []string `json:"sources"`
}

func (v *VirtualUpstream) UnmarshalJSON(data []byte) error {
	type virtual VirtualUpstream
	u := virtual{Enabled: true, Strategy: "first-match"}
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}

	*v = VirtualUpstream(u)
	return nil
}

// FeatureToggle is the config surface of upstream modes that are accepted
// but not dispatched by the core.
type FeatureToggle struct {
	Enabled bool `json:"enabled"`
}

// Backend is a tagged union, exactly one variant is set.
type Backend struct {
	HTTPS     HTTPSList         `json:"https"`
	File      *FileBackend      `json:"file"`
	Echo      *EchoBackend      `json:"echo"`
	Mock      *MockBackend      `json:"mock"`
	Redirect  *RedirectBackend  `json:"redirect"`
	Command   *CommandBackend   `json:"command"`
	Scheduler *SchedulerBackend `json:"scheduler"`
}

// BackendList accepts either a single backend object or an array of them.
type BackendList []*Backend

func (bl *BackendList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*bl = nil
		return nil
	}

	if len(data) > 0 && data[0] == '[' {
		var l []*Backend
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}

		*bl = l
		return nil
	}

	var b Backend
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}

	*bl = BackendList{&b}
	return nil
}

// HTTPSBackend forwards requests to an upstream HTTPS service.
type HTTPSBackend struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Weight    int               `json:"weight"`
	SSL       bool              `json:"ssl"`
	Timeout   float64           `json:"timeout"`
	Methods   []string          `json:"methods"`
	Headers   map[string]string `json:"headers"`
	Retries   *Retries          `json:"retries"`
	RateLimit *RateLimit        `json:"rate_limit"`
}

func (h *HTTPSBackend) UnmarshalJSON(data []byte) error {
	type https HTTPSBackend
	v := https{SSL: true, Timeout: 30}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	if len(v.Methods) == 0 {
		v.Methods = []string{"GET"}
	}

	*h = HTTPSBackend(v)
	return nil
}

// HTTPSList accepts either a single https backend or an array; the first
// entry is the one used.
type HTTPSList []*HTTPSBackend

func (hl *HTTPSList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*hl = nil
		return nil
	}

	if len(data) > 0 && data[0] == '[' {
		var l []*HTTPSBackend
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}

		*hl = l
		return nil
	}

	var h HTTPSBackend
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}

	*hl = HTTPSList{&h}
	return nil
}

// First returns the first https backend of the list, nil when empty.
func (hl HTTPSList) First() *HTTPSBackend {
	if len(hl) == 0 {
		return nil
	}

	return hl[0]
}

// Retries configures retrying of upstream calls on selected status codes.
type Retries struct {
	Count       int   `json:"count"`
	DelayMS     int   `json:"delay_ms"`
	StatusCodes []int `json:"status_codes"`
}

// RateLimit is accepted config surface, not enforced by the core.
type RateLimit struct {
	Requests struct {
		PerHour   int `json:"per_hour"`
		PerMinute int `json:"per_minute"`
	} `json:"requests"`
	Burst struct {
		Max int `json:"max"`
	} `json:"burst"`
}

// FileBackend serves files from a filesystem root.
type FileBackend struct {
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// EchoBackend reflects the request back as JSON.
type EchoBackend struct {
	Enabled         bool              `json:"enabled"`
	AddHeaders      map[string]string `json:"add_headers"`
	ResponseDelayMS int               `json:"response_delay_ms"`
}

// MockTemplate describes one static mock response.
type MockTemplate struct {
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers"`
	Body        json.RawMessage   `json:"body"`
	ContentType string            `json:"content_type"`
	DelayMS     int               `json:"delay_ms"`
}

func (t *MockTemplate) UnmarshalJSON(data []byte) error {
	type template MockTemplate
	v := template{StatusCode: 200, ContentType: "application/json"}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*t = MockTemplate(v)
	return nil
}

// MockTemplateEntry binds a path pattern to a response template.
type MockTemplateEntry struct {
	Pattern  string
	Template *MockTemplate
}

// MockTemplates preserves the document order of the path_templates object,
// because the first matching template wins.
type MockTemplates []MockTemplateEntry

func (mt *MockTemplates) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("config: path_templates must be an object")
	}

	var entries MockTemplates
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}

		pattern, ok := tok.(string)
		if !ok {
			return fmt.Errorf("config: invalid path_templates key")
		}

		var t MockTemplate
		if err := dec.Decode(&t); err != nil {
			return err
		}

		entries = append(entries, MockTemplateEntry{Pattern: pattern, Template: &t})
	}

	*mt = entries
	return nil
}

// MockBackend answers with configured response templates.
type MockBackend struct {
	Enabled         bool          `json:"enabled"`
	PathTemplates   MockTemplates `json:"path_templates"`
	DefaultResponse *MockTemplate `json:"default_response"`
}

// RedirectBackend answers with a redirect to a configured location.
type RedirectBackend struct {
	Enabled      bool   `json:"enabled"`
	Location     string `json:"location"`
	StatusCode   int    `json:"status_code"`
	PreservePath bool   `json:"preserve_path"`
}

func (r *RedirectBackend) UnmarshalJSON(data []byte) error {
	type redirect RedirectBackend
	v := redirect{Enabled: true, StatusCode: 302, PreservePath: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*r = RedirectBackend(v)
	return nil
}

// CommandBackend runs a command, optionally overridden per OS.
type CommandBackend struct {
	ID      string  `json:"id"`
	Default string  `json:"default"`
	Linux   string  `json:"linux"`
	Windows string  `json:"windows"`
	Darwin  string  `json:"darwin"`
	FreeBSD string  `json:"freebsd"`
	OpenBSD string  `json:"openbsd"`
	NetBSD  string  `json:"netbsd"`
	Timeout float64 `json:"timeout"`
}

// CronJob is one scheduled job definition. Only its status is surfaced by
// the scheduler backend, jobs are not executed by the proxy core.
type CronJob struct {
	Schedule    string `json:"schedule"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

// SchedulerBackend surfaces the status of configured cron jobs.
type SchedulerBackend struct {
	Enabled    bool               `json:"enabled"`
	CronJobs   map[string]CronJob `json:"cron_jobs"`
	JobHistory *JobHistory        `json:"job_history"`
}

// JobHistory configures where job history would be stored.
type JobHistory struct {
	StorageType    string `json:"storage_type"`
	Path           string `json:"path"`
	RetentionHours int    `json:"retention_hours"`
}

// Middlewares groups the middleware configuration.
type Middlewares struct {
	Performance *Performance `json:"performance"`
	Security    *Security    `json:"security"`
}

// Performance groups the performance middlewares.
type Performance struct {
	ResourceFilter  *ResourceFilter  `json:"resource_filter"`
	Compression     *Compression     `json:"compression"`
	Cache           *Cache           `json:"cache"`
	CircuitBreaking *CircuitBreaking `json:"circuit_breaking"`
}

// ResourceFilter short-circuits configured paths with 204 No Content.
type ResourceFilter struct {
	Enabled   bool     `json:"enabled"`
	SkipPaths []string `json:"skip_paths"`
}

// Compression negotiates and applies response compression.
type Compression struct {
	Enabled       bool   `json:"enabled"`
	Type          string `json:"type"`
	CompressLevel int    `json:"compress_level"`
	MinSize       int    `json:"min_size"`
}

func (c *Compression) UnmarshalJSON(data []byte) error {
	type compression Compression
	v := compression{Enabled: true, Type: "gzip", CompressLevel: 9, MinSize: 500}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*c = Compression(v)
	return nil
}

// Cache groups the cache tiers.
type Cache struct {
	Enabled bool         `json:"enabled"`
	File    *FileCache   `json:"file"`
	Memory  *MemoryCache `json:"memory"`
}

// FileCache configures the disk-backed response cache.
type FileCache struct {
	Enabled         bool     `json:"enabled"`
	Path            string   `json:"path"`
	TTL             int      `json:"ttl"`
	MaxSizeMB       int      `json:"max_size_mb"`
	MaxEntries      int      `json:"max_entries"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	CleanupInterval string   `json:"cleanup_interval"`
}

func (f *FileCache) UnmarshalJSON(data []byte) error {
	type fileCache FileCache
	v := fileCache{
		Enabled:         true,
		TTL:             86400,
		MaxSizeMB:       1024,
		MaxEntries:      10000,
		CleanupInterval: "1h",
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*f = FileCache(v)
	return nil
}

// TTLDuration returns the entry TTL as a duration.
func (f *FileCache) TTLDuration() time.Duration {
	return time.Duration(f.TTL) * time.Second
}

// CleanupIntervalDuration parses the cleanup interval, defaulting to one
// hour on a missing value.
func (f *FileCache) CleanupIntervalDuration() (time.Duration, error) {
	if f.CleanupInterval == "" {
		return time.Hour, nil
	}

	return time.ParseDuration(f.CleanupInterval)
}

// MemoryCache is accepted config surface for the in-memory cache
// middleware slot.
type MemoryCache struct {
	Enabled         bool     `json:"enabled"`
	MaxItems        int      `json:"max_items"`
	TTL             int      `json:"ttl"`
	MaxItemSize     int      `json:"max_item_size"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
}

// CircuitBreaking configures the circuit breaker middleware.
type CircuitBreaking struct {
	Enabled             bool    `json:"enabled"`
	Threshold           float64 `json:"threshold"`
	WindowSeconds       int     `json:"window_seconds"`
	MinSamples          int     `json:"min_samples"`
	ResetTimeoutSeconds int     `json:"reset_timeout_seconds"`
}

func (c *CircuitBreaking) UnmarshalJSON(data []byte) error {
	type breaking CircuitBreaking
	v := breaking{
		Enabled:             true,
		Threshold:           0.5,
		WindowSeconds:       60,
		MinSamples:          5,
		ResetTimeoutSeconds: 30,
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*c = CircuitBreaking(v)
	return nil
}

// Security groups the security middlewares.
type Security struct {
	IPFilter  *IPFilter  `json:"ip_filter"`
	BotFilter *BotFilter `json:"bot_filter"`
}

// IPFilter denies requests whose client address matches a glob.
type IPFilter struct {
	Enabled   bool     `json:"enabled"`
	Blacklist []string `json:"blacklist"`
}

// Bot names one User-Agent glob.
type Bot struct {
	Name      string `json:"name"`
	UserAgent string `json:"user-agent"`
}

// BotFilter allows or denies requests by their User-Agent.
type BotFilter struct {
	Enabled   bool  `json:"enabled"`
	Whitelist []Bot `json:"whitelist"`
	Blacklist []Bot `json:"blacklist"`
}

// Transformers groups the endpoint response transformers.
type Transformers struct {
	Response *ResponseTransformer `json:"response"`
}

// ResponseTransformer applies literal text replacements to response bodies.
type ResponseTransformer struct {
	Enabled          bool              `json:"enabled"`
	TextReplacements []TextReplacement `json:"textReplacements"`
}

// TextReplacement is one literal substitution. The new value may contain
// ${path}, expanded to the request path.
type TextReplacement struct {
	OldValue string `json:"oldvalue"`
	NewValue string `json:"newvalue"`
}

// Auth configures the outbound auth provider bound to an endpoint.
type Auth struct {
	Type               string                 `json:"type"`
	Username           string                 `json:"username"`
	Password           string                 `json:"password"`
	Secret             string                 `json:"secret"`
	Algorithm          string                 `json:"algorithm"`
	TokenExpireMinutes int                    `json:"token_expire_minutes"`
	Claims             map[string]interface{} `json:"claims"`
}
