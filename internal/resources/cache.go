// Package resources owns the local handles backing fetched images.
//
// Each handle is a file in the cache directory. The cache, not its callers,
// tracks which handle is live for a locator, so every acquired file is
// removed exactly once whether it is superseded or released.
package resources

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/metrics"
)

// ErrStaleHandle is returned when a handle has been released or superseded.
var ErrStaleHandle = errors.New("handle is no longer valid")

const handleExt = ".img"

// Handle is a reference to image bytes stored locally. It is valid between
// the Acquire that returned it and the next release for its locator.
type Handle struct {
	Locator     string
	Version     uint64
	Path        string
	Size        int64
	Width       int
	Height      int
	ContentType string
	AcquiredAt  time.Time
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Live     int
	Bytes    int64
	Acquired uint64
	Released uint64
}

// Cache maps locators to at most one live handle each.
type Cache struct {
	dir string

	mu       sync.Mutex
	entries  map[string]Handle
	version  uint64
	size     int64
	acquired uint64
	released uint64
}

// New creates a cache under root. Each process keeps its handle files in
// its own session directory, so processes sharing root never touch each
// other's live files. Session directories and loose handle files not
// modified for staleAfter are left over from dead processes and removed.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	sweep(root, time.Now())

	dir := filepath.Join(root, sessionPrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Cache{
		dir:     dir,
		entries: make(map[string]Handle),
	}, nil
}

const (
	sessionPrefix = "session-"
	staleAfter    = 24 * time.Hour
)

func sweep(root string, now time.Time) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	removed := 0
	for _, de := range dirEntries {
		name := de.Name()
		session := de.IsDir() && strings.HasPrefix(name, sessionPrefix)
		loose := !de.IsDir() && (strings.HasSuffix(name, handleExt) || strings.HasSuffix(name, ".tmp"))
		if !session && !loose {
			continue
		}
		info, err := de.Info()
		if err != nil || now.Sub(info.ModTime()) < staleAfter {
			continue
		}
		if os.RemoveAll(filepath.Join(root, name)) == nil {
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("Removed stale cache entries", logging.Int("count", removed))
	}
}

// Close releases every handle and removes the session directory.
func (c *Cache) Close() error {
	c.ReleaseAll()
	return os.RemoveAll(c.dir)
}

// Acquire stores data as the live handle for locator, releasing any
// previous handle for the same locator.
func (c *Cache) Acquire(locator string, data []byte) (Handle, error) {
	if locator == "" {
		return Handle{}, errors.New("empty locator")
	}

	// Write to temp file, then rename into place
	localPath := filepath.Join(c.dir, uuid.NewString()+handleExt)
	tempPath := localPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		os.Remove(tempPath)
		return Handle{}, fmt.Errorf("write handle: %w", err)
	}
	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return Handle{}, fmt.Errorf("rename handle: %w", err)
	}

	h := Handle{
		Locator:     locator,
		Path:        localPath,
		Size:        int64(len(data)),
		ContentType: http.DetectContentType(data),
		AcquiredAt:  time.Now(),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		h.Width, h.Height = cfg.Width, cfg.Height
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[locator]; ok {
		c.releaseLocked(prev)
	}
	c.version++
	h.Version = c.version
	c.entries[locator] = h
	c.size += h.Size
	c.acquired++
	metrics.SetLiveHandles(len(c.entries))
	return h, nil
}

// releaseLocked removes a handle's file and bookkeeping.
// Must be called with lock held.
func (c *Cache) releaseLocked(h Handle) {
	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		logging.Warn("Failed to remove handle file",
			logging.String("locator", h.Locator), logging.Err(err))
	}
	c.size -= h.Size
	c.released++
	delete(c.entries, h.Locator)
}

// Release releases the live handle for locator. It is a no-op when no
// handle is live.
func (c *Cache) Release(locator string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.entries[locator]
	if !ok {
		return false
	}
	c.releaseLocked(h)
	metrics.SetLiveHandles(len(c.entries))
	return true
}

// ReleaseHandle releases h only if it is still the live handle for its
// locator, so a caller cannot release a newer handle it does not own.
func (c *Cache) ReleaseHandle(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	live, ok := c.entries[h.Locator]
	if !ok || live.Version != h.Version {
		return false
	}
	c.releaseLocked(live)
	metrics.SetLiveHandles(len(c.entries))
	return true
}

// ReleaseAll releases every live handle and returns how many were released.
func (c *Cache) ReleaseAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, h := range c.entries {
		c.releaseLocked(h)
		count++
	}
	metrics.SetLiveHandles(0)
	return count
}

// Get returns the live handle for locator.
func (c *Cache) Get(locator string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[locator]
	return h, ok
}

// Valid reports whether h is still the live handle for its locator.
func (c *Cache) Valid(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	live, ok := c.entries[h.Locator]
	return ok && live.Version == h.Version
}

// Open opens the bytes behind h. It fails with ErrStaleHandle if h was
// released or superseded. The returned reader stays readable after a
// later release.
func (c *Cache) Open(h Handle) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live, ok := c.entries[h.Locator]
	if !ok || live.Version != h.Version {
		return nil, ErrStaleHandle
	}
	return os.Open(live.Path)
}

// ReadAll returns the bytes behind h.
func (c *Cache) ReadAll(h Handle) ([]byte, error) {
	rc, err := c.Open(h)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Locators returns the locators with a live handle, sorted.
func (c *Cache) Locators() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for loc := range c.entries {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Live:     len(c.entries),
		Bytes:    c.size,
		Acquired: c.acquired,
		Released: c.released,
	}
}

// Dir returns this process's session directory.
func (c *Cache) Dir() string {
	return c.dir
}
