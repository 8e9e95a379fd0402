package dictionary

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

type cachedFile struct {
	path    string
	modTime time.Time
	loaded  bool
	entries Pronunciations
}

// Cache memoizes base dictionaries and re-reads a file only when its
// modification time changes.
type Cache struct {
	log *slog.Logger

	mu    sync.Mutex
	files []*cachedFile
	reads int
}

func NewCache(paths []string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{log: log.With(slog.String("component", "dictionary-cache"))}
	for _, p := range paths {
		c.files = append(c.files, &cachedFile{path: p})
	}
	return c
}

// Load refreshes stale files and returns the union of all base
// dictionaries. Missing files are skipped with a warning. The result is a
// fresh map the caller may modify.
func (c *Cache) Load() (Pronunciations, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make(Pronunciations)
	for _, f := range c.files {
		info, err := os.Stat(f.path)
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("base dictionary does not exist", slog.String("path", f.path))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat dictionary %s: %w", f.path, err)
		}
		if !f.loaded || !info.ModTime().Equal(f.modTime) {
			if err := c.reload(f, info.ModTime()); err != nil {
				return nil, err
			}
		}
		merged.Merge(f.entries)
	}
	return merged, nil
}

func (c *Cache) reload(f *cachedFile, modTime time.Time) error {
	c.log.Debug("loading base dictionary", slog.String("path", f.path))
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open dictionary %s: %w", f.path, err)
	}
	defer file.Close()

	entries := make(Pronunciations)
	if err := Read(file, entries); err != nil {
		return fmt.Errorf("read dictionary %s: %w", f.path, err)
	}
	f.entries = entries
	f.modTime = modTime
	f.loaded = true
	c.reads++
	return nil
}

// Reads reports how many times a file was parsed from disk.
func (c *Cache) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
