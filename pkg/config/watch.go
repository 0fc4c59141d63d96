package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/sso"
)

// MappingSetter receives reloaded role mappings. *sso.RoleMapper satisfies it.
type MappingSetter interface {
	SetMapping(sso.RoleMapping)
}

// WatchRoleMappingFile reloads path into target whenever the file changes and
// blocks until ctx is done. A file that fails to parse is logged and the
// previous mapping stays active.
//
// The parent directory is watched rather than the file so that editors and
// config-map mounts that replace the file by rename are picked up.
func WatchRoleMappingFile(ctx context.Context, path string, target MappingSetter, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	log := logger.WithField("file", path)
	log.Info("Watching role mapping file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			// truncate-then-write shows up as an empty file first
			if info, err := os.Stat(path); err == nil && info.Size() == 0 {
				continue
			}

			mapping, err := LoadRoleMappingFile(path)
			if err != nil {
				// a rename leaves the file missing until the new one lands
				log.WithError(err).Warn("Role mapping reload failed, keeping previous mapping")
				continue
			}
			target.SetMapping(mapping)
			log.WithField("entries", len(mapping)).Info("Role mapping reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Watcher error")
		}
	}
}
