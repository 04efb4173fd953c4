package level

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pacmanist/server/internal/logging"
)

// Extension marks level files inside a level directory.
const Extension = ".lvl"

// DefaultFallbackPoll is the safety-net rescan cadence used while watching.
const DefaultFallbackPoll = 30 * time.Second

// ErrNoLevels reports a level directory without any level file.
var ErrNoLevels = errors.New("level: no level files found")

// Catalog is the sorted list of level files of one directory. Sessions read a snapshot at
// start, so a refresh never changes the order of a session already in progress.
type Catalog struct {
	dir    string
	logger *logging.Logger

	mu     sync.RWMutex
	levels []string

	FallbackPoll time.Duration
}

// NewCatalog scans dir once. It fails when dir cannot be read or holds no level files.
func NewCatalog(dir string, logger *logging.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.L()
	}
	c := &Catalog{dir: dir, logger: logger, FallbackPoll: DefaultFallbackPoll}
	levels, err := Scan(dir)
	if err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoLevels, dir)
	}
	c.levels = levels
	return c, nil
}

// Scan lists the level files of dir in lexical order.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("level: read directory %s: %w", dir, err)
	}
	var levels []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		levels = append(levels, entry.Name())
	}
	slices.Sort(levels)
	return levels, nil
}

// Dir returns the watched directory.
func (c *Catalog) Dir() string { return c.dir }

// Levels returns a copy of the current level order.
func (c *Catalog) Levels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.levels)
}

// Refresh rescans the directory. An empty or unreadable directory keeps the previous list so
// running and future sessions always have levels to play.
func (c *Catalog) Refresh() {
	levels, err := Scan(c.dir)
	if err != nil {
		c.logger.Warn("level rescan failed", logging.String("dir", c.dir), logging.Error(err))
		return
	}
	if len(levels) == 0 {
		c.logger.Warn("level rescan found no levels, keeping previous list", logging.String("dir", c.dir))
		return
	}
	c.mu.Lock()
	changed := !slices.Equal(c.levels, levels)
	c.levels = levels
	c.mu.Unlock()
	if changed {
		c.logger.Info("level catalogue updated", logging.Strings("levels", levels))
	}
}

// Watch refreshes the catalogue on directory changes until ctx ends. When notifications are
// unavailable it falls back to periodic rescans.
func (c *Catalog) Watch(ctx context.Context) {
	poll := c.FallbackPoll
	if poll <= 0 {
		poll = DefaultFallbackPoll
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("level watcher unavailable, polling", logging.Error(err))
		c.pollLoop(ctx, poll)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(c.dir); err != nil {
		c.logger.Warn("level watch failed, polling", logging.String("dir", c.dir), logging.Error(err))
		c.pollLoop(ctx, poll)
		return
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != Extension {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.Refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("level watcher error", logging.Error(err))
		case <-ticker.C:
			c.Refresh()
		}
	}
}

func (c *Catalog) pollLoop(ctx context.Context, poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}
