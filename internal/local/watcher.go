package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/torfstack/shore/internal/logging"
)

type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher wraps fsnotify with recursive directory registration. Raw
// events and watch errors are forwarded as-is; debouncing and
// normalization happen in the Detector.
type Watcher struct {
	watcher  *fsnotify.Watcher
	Events   chan WatchEvent
	Errors   chan error
	RootPath string
}

func NewWatcher(rootPath string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  watcher,
		Events:   make(chan WatchEvent, 64),
		Errors:   make(chan error, 1),
		RootPath: rootPath,
	}

	// NOTE: fsnotify does not recursively watch subdirectories
	err = filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err = w.addDir(path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Watcher) addDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("add-dir: could not stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil
	}

	if err = w.watcher.Add(path); err != nil {
		return fmt.Errorf("add-dir: could not add directory to watcher: %w", err)
	}
	logging.Debugf("Added directory to watcher: %s", path)
	return nil
}

func (w *Watcher) Close() {
	if err := w.watcher.Close(); err != nil {
		logging.Infof("Error closing watcher: %s", err)
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			relativePath, err := filepath.Rel(w.RootPath, event.Name)
			if err != nil || relativePath == ".." || event.Name == w.RootPath {
				continue
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err = w.addDir(event.Name); err != nil {
						logging.Infof("Could not watch new directory '%s': %s", event.Name, err)
					}
				}
			}

			select {
			case w.Events <- WatchEvent{Path: event.Name, Op: event.Op}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			select {
			case w.Errors <- err:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
