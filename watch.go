package elmls

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/elmls/internal/document"
)

// DefaultDebounce is how long Watch waits for a burst of file events to settle.
const DefaultDebounce = 100 * time.Millisecond

// Watch follows the source directories on disk until ctx is done. Closed files
// that are created, written or removed are reindexed; open documents belong
// to the editor and are left alone.
func (e *Engine) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	roots := e.srcDirs
	if len(roots) == 0 {
		roots = []string{e.root}
	}
	for _, root := range roots {
		if err := addWatchRecursive(watcher, root); err != nil {
			return err
		}
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	pending := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			path := filepath.Clean(event.Name)
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(path); err == nil && info.IsDir() {
					if err := addWatchRecursive(watcher, path); err != nil {
						log.Warningf("watching %s: %v", path, err)
					}
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if len(pending) == 0 {
				timer.Reset(debounce)
			}
			pending[path] = true
		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			sort.Strings(changed)
			pending = map[string]bool{}
			e.syncPaths(ctx, changed)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// syncPaths schedules a disk sync for every closed file affected by the
// changed paths. A path that is not an .elm file may be a directory that
// appeared or disappeared with everything in it.
func (e *Engine) syncPaths(ctx context.Context, changed []string) {
	uris := make(map[string]bool)
	for _, path := range changed {
		if strings.HasSuffix(path, ".elm") {
			uris[document.URIFromPath(path)] = true
			continue
		}
		prefix := document.URIFromPath(path) + "/"
		for _, uri := range e.ix.Files() {
			if strings.HasPrefix(uri, prefix) {
				uris[uri] = true
			}
		}
		filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() && strings.HasSuffix(p, ".elm") {
				uris[document.URIFromPath(p)] = true
			}
			return nil
		})
	}
	for uri := range uris {
		if e.docs.IsOpen(uri) {
			continue
		}
		e.schedule(uri, func() { e.syncFromDisk(context.WithoutCancel(ctx), uri) })
	}
	log.Debugf("file watcher: %d paths changed, %d files to sync", len(changed), len(uris))
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	root = filepath.Clean(root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || skipDirs[d.Name()]) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
