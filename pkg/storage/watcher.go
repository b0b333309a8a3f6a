package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is called with the accounts affected by a fixture reload
type ReloadFunc func(ctx context.Context, accountIDs []string)

// Watch reloads the fixture whenever its file changes and passes the affected
// accounts to onReload. Changes within debounce of each other are folded into
// one reload. Watch blocks until ctx is done.
func (s *FixtureStore) Watch(ctx context.Context, debounce time.Duration, onReload ReloadFunc) error {
	if s.path == "" {
		return fmt.Errorf("fixture store has no file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so the directory is watched rather
	// than the file.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)
	log := s.log.WithField("path", s.path)
	log.Info("Watching fixture for changes")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.WithField("op", event.Op.String()).Debug("Fixture changed")
			if pending == nil {
				pending = time.After(debounce)
			}
		case <-pending:
			pending = nil
			accounts, err := s.Reload()
			if err != nil {
				log.WithError(err).Warn("Failed to reload fixture, keeping previous version")
				continue
			}
			if onReload != nil {
				onReload(ctx, accounts)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Watcher error")
		}
	}
}
