/*
Package cache implements the two-tier response cache: an in-memory map in
front of a flat directory of one JSON file per entry.

Lookup goes memory first, then disk, promoting fresh disk entries into
memory. Admission writes the memory tier synchronously and the disk tier
asynchronously, off the request path. A periodic cleanup pass bounds the
disk tier, see cleanup.go.
*/
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/proxycraft/proxycraft/antpath"
	"github.com/proxycraft/proxycraft/logging"
	"github.com/proxycraft/proxycraft/metrics"
)

// Entry is one cached response. Its JSON form is the on-disk format; the
// timestamp is kept as the first field so that cleanup can probe it from a
// short file prefix.
type Entry struct {
	Timestamp  float64           `json:"timestamp"`
	StatusCode int               `json:"status_code"`
	Content    []byte            `json:"content"`
	Headers    map[string]string `json:"headers"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e *Entry) Fresh(ttl time.Duration, now time.Time) bool {
	age := float64(now.Unix()) - e.Timestamp
	return age <= ttl.Seconds()
}

// Options configures an Engine.
type Options struct {
	Dir             string
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
	IncludePatterns []string
	ExcludePatterns []string
	Log             logging.Logger
	Metrics         metrics.Metrics
}

// Engine is the two-tier cache. Safe for concurrent use; Close stops the
// background cleanup.
type Engine struct {
	dir             string
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	include         []*antpath.Pattern
	exclude         []*antpath.Pattern
	log             logging.Logger
	metrics         metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*Entry

	cleanup  singleflight.Group
	quit     chan struct{}
	closed   sync.Once
	writeWG  sync.WaitGroup

	now func() time.Time
}

// New creates the cache directory if needed and starts the cleanup loop.
func New(o Options) (*Engine, error) {
	if o.Dir == "" {
		return nil, fmt.Errorf("cache: directory is required")
	}

	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating %s: %w", o.Dir, err)
	}

	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}

	if o.MaxEntries <= 0 {
		o.MaxEntries = 10000
	}

	if o.CleanupInterval <= 0 {
		o.CleanupInterval = time.Hour
	}

	if o.Log == nil {
		o.Log = &logging.DefaultLog{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Void{}
	}

	e := &Engine{
		dir:             o.Dir,
		ttl:             o.TTL,
		maxEntries:      o.MaxEntries,
		cleanupInterval: o.CleanupInterval,
		log:             o.Log,
		metrics:         o.Metrics,
		entries:         make(map[string]*Entry),
		quit:            make(chan struct{}),
		now:             time.Now,
	}

	for _, pat := range o.IncludePatterns {
		p, err := antpath.Compile(pat)
		if err != nil {
			return nil, err
		}

		e.include = append(e.include, p)
	}

	for _, pat := range o.ExcludePatterns {
		p, err := antpath.Compile(pat)
		if err != nil {
			return nil, err
		}

		e.exclude = append(e.exclude, p)
	}

	go e.cleanupLoop()
	return e, nil
}

// Key derives the cache key from the request path and raw query.
func Key(path, query string) string {
	s := path
	if query != "" {
		s = path + "?" + query
	}

	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Cacheable reports whether a request may be served from or admitted to
// the cache: GET only, path matching an include pattern and no exclude
// pattern.
func (e *Engine) Cacheable(method, path string) bool {
	if method != http.MethodGet {
		return false
	}

	for _, p := range e.exclude {
		if p.Match(path) {
			return false
		}
	}

	for _, p := range e.include {
		if p.Match(path) {
			return true
		}
	}

	return false
}

// Admittable reports whether a response status may be stored.
func Admittable(status int) bool {
	return status >= 200 && status < 400
}

// Lookup returns a fresh entry for key, or nil on miss. Disk hits are
// promoted into memory.
func (e *Engine) Lookup(key string) *Entry {
	now := e.now()

	e.mu.RLock()
	entry := e.entries[key]
	e.mu.RUnlock()

	if entry != nil && entry.Fresh(e.ttl, now) {
		e.metrics.IncCacheHit("memory")
		return entry
	}

	entry = e.readFile(key)
	if entry == nil || !entry.Fresh(e.ttl, now) {
		e.metrics.IncCacheMiss()
		return nil
	}

	e.mu.Lock()
	e.entries[key] = entry
	e.evictLocked()
	e.mu.Unlock()

	e.metrics.IncCacheHit("disk")
	return entry
}

func (e *Engine) readFile(key string) *Entry {
	b, err := os.ReadFile(filepath.Join(e.dir, key))
	if err != nil {
		if !os.IsNotExist(err) {
			e.log.Debugf("cache: reading %s: %v", key, err)
		}

		return nil
	}

	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		e.log.Debugf("cache: malformed entry %s: %v", key, err)
		e.scheduleDelete(key)
		return nil
	}

	return &entry
}

func (e *Engine) scheduleDelete(key string) {
	path := filepath.Join(e.dir, key)
	go func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.log.Debugf("cache: removing %s: %v", key, err)
		}
	}()
}

// Admit stores a response under key. The memory tier is updated
// synchronously, the disk write happens in the background.
func (e *Engine) Admit(key string, status int, headers map[string]string, body []byte) {
	entry := &Entry{
		Timestamp:  float64(e.now().Unix()),
		StatusCode: status,
		Content:    body,
		Headers:    headers,
	}

	e.mu.Lock()
	e.entries[key] = entry
	e.evictLocked()
	e.mu.Unlock()

	e.writeWG.Add(1)
	go func() {
		defer e.writeWG.Done()
		e.writeFile(key, entry)
		e.boundDisk()
	}()
}

func (e *Engine) writeFile(key string, entry *Entry) {
	b, err := json.Marshal(entry)
	if err != nil {
		e.log.Errorf("cache: encoding %s: %v", key, err)
		return
	}

	if err := os.WriteFile(filepath.Join(e.dir, key), b, 0o644); err != nil {
		e.log.Errorf("cache: writing %s: %v", key, err)
	}
}

// evictLocked drops the oldest 20% of the memory tier when it grows past
// maxEntries. Caller holds mu.
func (e *Engine) evictLocked() {
	if len(e.entries) <= e.maxEntries {
		return
	}

	type aged struct {
		key string
		ts  float64
	}

	all := make([]aged, 0, len(e.entries))
	for k, v := range e.entries {
		all = append(all, aged{k, v.Timestamp})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ts < all[j].ts })

	n := len(all) / 5
	if n < 1 {
		n = 1
	}

	for _, a := range all[:n] {
		delete(e.entries, a.key)
	}
}

// boundDisk schedules a cleanup when the file count approaches the entry
// bound.
func (e *Engine) boundDisk() {
	names, err := os.ReadDir(e.dir)
	if err != nil {
		return
	}

	if float64(len(names)) > float64(e.maxEntries)*0.9 {
		go e.Cleanup()
	}
}

// Stats describes the current cache state.
type Stats struct {
	MemoryEntries int
	DiskEntries   int
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	mem := len(e.entries)
	e.mu.RUnlock()

	var disk int
	if names, err := os.ReadDir(e.dir); err == nil {
		disk = len(names)
	}

	return Stats{MemoryEntries: mem, DiskEntries: disk}
}

// Close stops the cleanup loop and waits for in-flight disk writes.
func (e *Engine) Close() {
	e.closed.Do(func() { close(e.quit) })
	e.writeWG.Wait()
}
