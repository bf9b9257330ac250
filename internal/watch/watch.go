package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForChange blocks until the content of path changes once, then stops
// watching. The parent directory is watched rather than the file itself so
// editors that save through a temporary file and rename are still noticed,
// and so the file does not have to exist yet.
func WaitForChange(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(abs)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			slog.Debug("Filesystem event on watched file", "event", event.Op.String(), "file", event.Name)

			// Atomic saves show up as a create of the final name
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			return fmt.Errorf("file watcher failed: %w", err)
		}
	}
}

// Once runs fn the first time path changes. It returns without calling fn
// when ctx is cancelled first.
func Once(ctx context.Context, path string, fn func()) error {
	if err := WaitForChange(ctx, path); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	fn()
	return nil
}
