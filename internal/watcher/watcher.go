// Package watcher monitors the workspace directory so clients can see the
// files that executed code creates or modifies.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
)

const (
	debounceInterval = 500 * time.Millisecond
	maxTreeDepth     = 3
)

// excludedDirs are directories excluded from counting and tree generation.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"__pycache__":  true,
}

// UpdateFunc is called with a debounced summary of workspace changes.
type UpdateFunc func(protocol.FilesUpdatePayload)

// Watcher recursively watches one workspace directory and reports changes
// through a debounced callback.
type Watcher struct {
	workDir   string
	fsWatcher *fsnotify.Watcher
	callback  UpdateFunc
	log       *slog.Logger

	mu      sync.Mutex
	changed map[string]bool
	timer   *time.Timer

	cancel chan struct{}
	once   sync.Once
}

// New starts watching workDir and its subdirectories.
func New(workDir string, callback UpdateFunc, log *slog.Logger) (*Watcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addDirsRecursive(fsW, workDir); err != nil {
		fsW.Close()
		return nil, err
	}

	w := &Watcher{
		workDir:   workDir,
		fsWatcher: fsW,
		callback:  callback,
		log:       log.With("workDir", workDir),
		changed:   make(map[string]bool),
		cancel:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// WorkDir returns the watched directory.
func (w *Watcher) WorkDir() string { return w.workDir }

// loop processes fsnotify events, collecting changed paths and firing the
// callback once the burst settles.
func (w *Watcher) loop() {
	for {
		select {
		case <-w.cancel:
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// New directories get watched too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					base := filepath.Base(event.Name)
					if !excludedDirs[base] && !isHidden(base) {
						w.fsWatcher.Add(event.Name)
					}
				}
			}

			if rel, err := filepath.Rel(w.workDir, event.Name); err == nil {
				w.mu.Lock()
				w.changed[rel] = true
				if w.timer != nil {
					w.timer.Stop()
				}
				w.timer = time.AfterFunc(debounceInterval, w.flush)
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// flush reports the accumulated changes and resets the set.
func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.changed))
	for p := range w.changed {
		paths = append(paths, p)
	}
	w.changed = make(map[string]bool)
	w.mu.Unlock()

	if len(paths) == 0 || w.callback == nil {
		return
	}
	sort.Strings(paths)

	w.callback(protocol.FilesUpdatePayload{
		FileCount:    CountFiles(w.workDir),
		ChangedPaths: paths,
	})
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.cancel)
		w.fsWatcher.Close()
	})
}

// CountFiles counts all non-excluded files under dir.
func CountFiles(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}

		name := d.Name()
		if d.IsDir() {
			if path != dir && (excludedDirs[name] || isHidden(name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(name) {
			return nil
		}
		count++
		return nil
	})
	return count
}

// Tree returns a snapshot of the watched workspace.
func (w *Watcher) Tree() []protocol.FileNode {
	return BuildFileTree(w.workDir, maxTreeDepth)
}

// BuildFileTree generates a FileNode tree for a directory up to maxDepth
// levels, directories before files at each level.
func BuildFileTree(dir string, maxDepth int) []protocol.FileNode {
	return buildTreeRecursive(dir, dir, 0, maxDepth)
}

func buildTreeRecursive(rootDir, currentDir string, depth, maxDepth int) []protocol.FileNode {
	if depth >= maxDepth {
		return nil
	}

	entries, err := os.ReadDir(currentDir)
	if err != nil {
		return nil
	}

	var dirs, files []os.DirEntry
	for _, entry := range entries {
		name := entry.Name()
		if excludedDirs[name] || isHidden(name) {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	nodes := make([]protocol.FileNode, 0, len(dirs)+len(files))

	for _, d := range dirs {
		fullPath := filepath.Join(currentDir, d.Name())
		relPath, _ := filepath.Rel(rootDir, fullPath)
		nodes = append(nodes, protocol.FileNode{
			Name:     d.Name(),
			Path:     relPath,
			IsDir:    true,
			Children: buildTreeRecursive(rootDir, fullPath, depth+1, maxDepth),
		})
	}

	for _, f := range files {
		fullPath := filepath.Join(currentDir, f.Name())
		relPath, _ := filepath.Rel(rootDir, fullPath)
		var size int64
		if info, err := f.Info(); err == nil {
			size = info.Size()
		}
		nodes = append(nodes, protocol.FileNode{
			Name:  f.Name(),
			Path:  relPath,
			IsDir: false,
			Size:  size,
		})
	}

	return nodes
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if path != dir && (excludedDirs[name] || isHidden(name)) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
