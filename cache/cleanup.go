package cache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
)

const (
	cleanupBatchSize = 50

	// timestampProbeSize covers the timestamp field at the start of an
	// entry file, no need to read the body.
	timestampProbeSize = 256
)

func (e *Engine) cleanupLoop() {
	t := time.NewTicker(e.cleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			e.Cleanup()
		case <-e.quit:
			return
		}
	}
}

// Cleanup scans the cache directory and deletes expired or malformed
// entries. At most one cleanup runs at a time; concurrent calls coalesce
// into the running one. Scanning happens in small batches with a yield in
// between so that request handling is never starved.
func (e *Engine) Cleanup() {
	e.cleanup.Do("cleanup", func() (interface{}, error) {
		e.cleanupPass()
		return nil, nil
	})
}

func (e *Engine) cleanupPass() {
	names, err := os.ReadDir(e.dir)
	if err != nil {
		e.log.Errorf("cache: scanning %s: %v", e.dir, err)
		return
	}

	var removed int
	for i, entry := range names {
		if i > 0 && i%cleanupBatchSize == 0 {
			select {
			case <-e.quit:
				return
			case <-time.After(time.Millisecond):
			}
		}

		if entry.IsDir() {
			continue
		}

		if e.cleanupFile(entry.Name()) {
			removed++
		}
	}

	if removed > 0 {
		e.log.Infof("cache: cleanup removed %d entries", removed)
	}
}

// cleanupFile deletes the named entry when it is expired or unreadable,
// reporting whether it was removed. Fresh in-memory entries are skipped
// without touching the disk.
func (e *Engine) cleanupFile(name string) bool {
	now := e.now()

	e.mu.RLock()
	mem := e.entries[name]
	e.mu.RUnlock()

	if mem != nil && mem.Fresh(e.ttl, now) {
		return false
	}

	path := filepath.Join(e.dir, name)
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}

	// mtime is an upper bound on the entry timestamp, so an extra 10%
	// margin avoids reading files that could still be fresh
	if fi.ModTime().Add(time.Duration(float64(e.ttl) * 1.1)).Before(now) {
		return e.remove(path)
	}

	ts, ok := e.probeTimestamp(path)
	if !ok {
		return e.remove(path)
	}

	if float64(now.Unix())-ts > e.ttl.Seconds() {
		return e.remove(path)
	}

	return false
}

// probeTimestamp reads only the file prefix and extracts the timestamp
// field.
func (e *Engine) probeTimestamp(path string) (float64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	buf := make([]byte, timestampProbeSize)
	n, _ := f.Read(buf)
	if n == 0 {
		return 0, false
	}

	// the prefix is usually not complete JSON; close it so the field
	// can be parsed
	r := gjson.GetBytes(append(buf[:n], '}'), "timestamp")
	if !r.Exists() {
		return 0, false
	}

	return r.Float(), true
}

func (e *Engine) remove(path string) bool {
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			e.log.Debugf("cache: removing %s: %v", path, err)
		}

		return false
	}

	return true
}
