package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/fsnotify/fsnotify"
)

// sharedDebounceInterval is how long the watcher waits after the last
// write before reading the shared identity file. Sibling apps often write
// it in several steps.
const sharedDebounceInterval = 300 * time.Millisecond

// WatchShared monitors the shared identity file and calls onSwitch when
// it is written with a valid identity whose id differs from the current
// one. Removal of the file is ignored. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself, so the
// watch survives editors and tools that replace the file by rename.
func (s *Session) WatchShared(ctx context.Context, path string, onSwitch func(models.Identity)) error {
	if path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	name := filepath.Clean(path)

	// Stopped timer; armed on each relevant event.
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != name {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				timer.Reset(sharedDebounceInterval)
			}

		case <-timer.C:
			s.checkShared(path, onSwitch)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			s.logger.Warn("shared identity watcher error", slog.String("error", err.Error()))
		}
	}
}

func (s *Session) checkShared(path string, onSwitch func(models.Identity)) {
	id, err := ReadSharedIdentity(path)
	if err != nil {
		s.logger.Debug("shared identity unreadable", slog.String("error", err.Error()))
		return
	}

	if cur := s.Identity(); cur != nil && cur.ID == id.ID {
		return
	}

	s.logger.Info("shared identity changed", slog.String("identity", id.ID))
	onSwitch(*id)
}
