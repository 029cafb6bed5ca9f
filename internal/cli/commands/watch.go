package commands

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/stardialect/pkg/module"
)

// debounceDelay collapses bursts of file events into one re-run.
const debounceDelay = 100 * time.Millisecond

// watchDirs calls onChange whenever a .star file below dirs is written or
// created, until ctx is done. changed holds the files touched since the
// previous call.
func watchDirs(ctx context.Context, logger *slog.Logger, dirs []string, onChange func(ctx context.Context, changed []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range dirs {
		if err := watchDirRecursive(watcher, dir); err != nil {
			// Keep watching the directories that do exist.
			logger.Warn("failed to watch directory", slog.String("dir", dir), slog.Any("error", err))
		}
	}

	rerun := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	var changed []string

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// New directories are watched too.
				_ = watchDirRecursive(watcher, event.Name)
			}
			if filepath.Ext(event.Name) != module.SourceExt {
				continue
			}
			logger.Debug("file changed", slog.String("file", event.Name))
			if !slices.Contains(changed, event.Name) {
				changed = append(changed, event.Name)
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				select {
				case rerun <- struct{}{}:
				default:
				}
			})

		case <-rerun:
			files := changed
			changed = nil
			onChange(ctx, files)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", slog.Any("error", err))
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
