// SPDX-License-Identifier: MPL-2.0

// Package buildcache content-addresses build artifacts by commit hash.
//
// Entries move through a two-phase protocol: Create allocates a staging
// directory invisible to lookups, Finalize atomically promotes it. A crash
// between the two leaves the entry absent, never half-valid.
package buildcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// stagingPrefix marks directories holding builds that have not been
// finalized yet. Lookups and eviction ignore them.
const stagingPrefix = ".building-"

// Cache stores finalized build artifacts per commit hash under a root
// directory, bounded to a maximum number of entries.
type Cache struct {
	root    string
	maxSize int
	logger  *log.Logger

	mu      sync.Mutex
	pending map[string]string // commit hash -> staging dir
}

// New creates a cache rooted at dir keeping at most maxSize finalized
// entries. The directory is created lazily on first Create.
func New(dir string, maxSize int, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		root:    dir,
		maxSize: maxSize,
		logger:  logger,
		pending: make(map[string]string),
	}
}

// Get returns the finalized cache directory for the commit, or ok=false when
// no finalized entry exists. Directories still mid-build are never returned.
func (c *Cache) Get(commitHash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, building := c.pending[commitHash]; building {
		return "", false
	}

	dir := c.entryDir(commitHash)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

// Create allocates a fresh, empty working directory for a build of the
// commit. Any previous entry or abandoned staging directory for the same
// commit is evicted first. The entry stays invisible to Get until Finalize.
func (c *Cache) Create(commitHash string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache root: %w", err)
	}

	// A stale finalized entry is discarded: the caller has decided to
	// rebuild, and serving the old artifact alongside would be ambiguous.
	if err := os.RemoveAll(c.entryDir(commitHash)); err != nil {
		return "", fmt.Errorf("failed to evict stale cache entry for %s: %w", commitHash, err)
	}
	if staging, ok := c.pending[commitHash]; ok {
		if err := os.RemoveAll(staging); err != nil {
			return "", fmt.Errorf("failed to remove abandoned build dir for %s: %w", commitHash, err)
		}
		delete(c.pending, commitHash)
	}

	staging := filepath.Join(c.root, stagingPrefix+commitHash+"-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("failed to create build dir for %s: %w", commitHash, err)
	}
	c.pending[commitHash] = staging
	c.logger.Debug("allocated build cache dir", "commit", commitHash, "dir", staging)
	return staging, nil
}

// Finalize promotes the staging directory dir, as returned by Create for
// the commit, to a finalized entry, then applies the size bound. Only the
// builder owning the current staging may promote it: when the commit's
// pending staging is not dir (a later Create superseded it, or Create was
// never called in this process) the call is a no-op.
func (c *Cache) Finalize(commitHash, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	staging, ok := c.pending[commitHash]
	if !ok || staging != dir {
		return nil
	}

	final := c.entryDir(commitHash)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("failed to replace cache entry for %s: %w", commitHash, err)
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("failed to finalize cache entry for %s: %w", commitHash, err)
	}
	delete(c.pending, commitHash)

	// Eviction order is finalization order, not write order inside the
	// staging dir.
	now := time.Now()
	if err := os.Chtimes(final, now, now); err != nil {
		return fmt.Errorf("failed to stamp cache entry for %s: %w", commitHash, err)
	}
	c.logger.Debug("finalized build cache entry", "commit", commitHash)

	return c.evictLocked()
}

// evictLocked removes least-recently-finalized entries beyond the size
// bound. Staging directories are never evicted here; abandoned ones are
// reclaimed by the next Create for their commit.
func (c *Cache) evictLocked() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("failed to scan cache root: %w", err)
	}

	type finalized struct {
		name  string
		mtime int64
	}
	var valid []finalized
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		valid = append(valid, finalized{name: entry.Name(), mtime: info.ModTime().UnixNano()})
	}

	if len(valid) <= c.maxSize {
		return nil
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].mtime < valid[j].mtime })
	for _, entry := range valid[:len(valid)-c.maxSize] {
		c.logger.Debug("evicting build cache entry", "commit", entry.name)
		if err := os.RemoveAll(filepath.Join(c.root, entry.name)); err != nil {
			return fmt.Errorf("failed to evict cache entry %s: %w", entry.name, err)
		}
	}
	return nil
}

func (c *Cache) entryDir(commitHash string) string {
	return filepath.Join(c.root, commitHash)
}
