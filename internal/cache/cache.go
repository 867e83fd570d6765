package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dshills/armada/internal/agent"
	"golang.org/x/sync/singleflight"
)

// SchemaVersion is embedded in every cache key, so entries written by an
// incompatible build are simply unreachable rather than needing a
// read-then-discard cycle.
const SchemaVersion = 1

// DefaultTTLSeconds is the default entry lifetime.
const DefaultTTLSeconds = 86400

// Key identifies one (input, config, agent) triple.
type Key struct {
	PR         string
	HeadCommit string
	ConfigHash string
	AgentID    string
}

// Hash returns the fingerprint the entry is stored under.
func (k Key) Hash() string {
	material := fmt.Sprintf("v%d:%s:%s:%s:%s", SchemaVersion, k.PR, k.HeadCommit, k.ConfigHash, k.AgentID)
	h := sha256.Sum256([]byte(material))
	return fmt.Sprintf("%x", h)
}

// Entry is the on-disk record: a schema-versioned result payload plus the
// key it was stored under, verified on read.
type Entry struct {
	SchemaVersion int          `json:"schemaVersion"`
	Key           string       `json:"key"`
	Result        agent.Result `json:"result"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Cache is a content-addressed store of agent results, one flat file per
// fingerprint key under the cache root.
type Cache struct {
	dir        string
	ttlSeconds int
	enabled    bool
	flight     singleflight.Group
}

// New creates a Cache. If dir is empty, the platform cache directory is
// used. A disabled cache is a valid no-op instance.
func New(enabled bool, dir string, ttlSeconds int) (*Cache, error) {
	if !enabled {
		return &Cache{enabled: false}, nil
	}
	if dir == "" {
		d, err := defaultCacheDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{dir: dir, ttlSeconds: ttlSeconds, enabled: true}, nil
}

// Get retrieves the result stored under k. Any read problem — missing
// file, truncated write, legacy format, expired TTL, key mismatch — is a
// miss, never an error.
func (c *Cache) Get(k Key) (agent.Result, bool) {
	if !c.enabled {
		return agent.Result{}, false
	}
	path := c.entryPath(k)
	data, err := os.ReadFile(path)
	if err != nil {
		return agent.Result{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return agent.Result{}, false
	}
	if entry.SchemaVersion != SchemaVersion || entry.Key != k.Hash() {
		return agent.Result{}, false
	}
	if err := entry.Result.Validate(); err != nil {
		return agent.Result{}, false
	}
	if c.ttlSeconds > 0 && time.Since(entry.CreatedAt) > time.Duration(c.ttlSeconds)*time.Second {
		os.Remove(path)
		return agent.Result{}, false
	}
	return entry.Result, true
}

// Put stores a result under k. The write is atomic at the file level:
// write to a temp file in the same directory, then rename.
func (c *Cache) Put(k Key, r agent.Result) error {
	if !c.enabled {
		return nil
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("refusing to cache invalid result: %w", err)
	}
	entry := Entry{
		SchemaVersion: SchemaVersion,
		Key:           k.Hash(),
		Result:        r,
		CreatedAt:     time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing cache entry: %w", err)
	}
	if err := os.Rename(tmpName, c.entryPath(k)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming cache entry: %w", err)
	}
	return nil
}

// GetOrCompute returns the cached result for k, or runs compute exactly
// once. Concurrent callers for the same key coalesce onto the single
// in-flight computation; unrelated keys never contend. Only successful
// results are written back.
func (c *Cache) GetOrCompute(k Key, compute func() agent.Result) agent.Result {
	if !c.enabled {
		return compute()
	}
	v, _, _ := c.flight.Do(k.Hash(), func() (any, error) {
		if r, ok := c.Get(k); ok {
			return r, nil
		}
		r := compute()
		if r.Status == agent.StatusSuccess {
			if err := c.Put(k, r); err != nil {
				// A failed write must not fail the run; the result is
				// still returned to the caller.
				return r, nil
			}
		}
		return r, nil
	})
	return v.(agent.Result)
}

// Clear removes all cache entries.
func (c *Cache) Clear() error {
	if !c.enabled || c.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			os.Remove(filepath.Join(c.dir, e.Name()))
		}
	}
	return nil
}

// Stats describes the cache contents.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
	Expired    int    `json:"expired"`
}

// GetStats returns information about the cache.
func (c *Cache) GetStats() (Stats, error) {
	stats := Stats{Dir: c.dir}
	if !c.enabled || c.dir == "" {
		return stats, nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalBytes += info.Size()

		data, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if c.ttlSeconds > 0 && time.Since(entry.CreatedAt) > time.Duration(c.ttlSeconds)*time.Second {
			stats.Expired++
		}
	}
	return stats, nil
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string { return c.dir }

// Enabled returns whether caching is enabled.
func (c *Cache) Enabled() bool { return c.enabled }

func (c *Cache) entryPath(k Key) string {
	return filepath.Join(c.dir, k.Hash()+".json")
}

func defaultCacheDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "armada"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "armada"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "armada", "cache"), nil
		}
		return filepath.Join(home, "AppData", "Local", "armada", "cache"), nil
	default:
		return filepath.Join(home, ".cache", "armada"), nil
	}
}
