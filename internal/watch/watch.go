// Package watch sends every file that appears in a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/1ureka/gobackn/internal/util"
)

const DefaultSettle = 500 * time.Millisecond

// Handler transfers one file. Files are handed over one at a time.
type Handler func(ctx context.Context, path string) error

type Options struct {
	// Settle is how long a file must go without write events before it is
	// considered complete.
	Settle time.Duration
	// Existing also queues the regular files already in the directory.
	Existing bool
}

// Run watches dir until ctx is done. Hidden files and anything that is not a
// regular file are ignored. Handler errors are logged, not returned.
func Run(ctx context.Context, dir string, opts Options, handle Handler) error {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	util.LogInfo("watching %s", dir)

	pending := make(map[string]time.Time) // path -> last event
	if opts.Existing {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if eligible(path) {
				pending[path] = time.Time{}
			}
		}
	}

	ticker := time.NewTicker(opts.Settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if !hidden(ev.Name) {
					pending[ev.Name] = time.Now()
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			util.LogWarning("watcher: %v", err)

		case <-ticker.C:
			for _, path := range settled(pending, opts.Settle) {
				delete(pending, path)
				if !eligible(path) {
					continue
				}
				util.LogInfo("sending %s", path)
				if err := handle(ctx, path); err != nil {
					util.LogError("send %s: %v", path, err)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
	}
}

// settled returns the pending paths quiet for at least settle, oldest first.
func settled(pending map[string]time.Time, settle time.Duration) []string {
	var ready []string
	for path, last := range pending {
		if time.Since(last) >= settle {
			ready = append(ready, path)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !pending[ready[i]].Equal(pending[ready[j]]) {
			return pending[ready[i]].Before(pending[ready[j]])
		}
		return ready[i] < ready[j]
	})
	return ready
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func eligible(path string) bool {
	if hidden(path) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
