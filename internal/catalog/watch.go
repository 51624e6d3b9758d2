package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads s from path whenever the file is written or replaced, until
// ctx is done. The parent directory is watched so that editors that save by
// rename are picked up. A file that fails to parse is logged and ignored.
func Watch(ctx context.Context, s *Static, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch catalog dir: %w", err)
	}

	go func() {
		defer func() {
			if closeErr := w.Close(); closeErr != nil {
				logger.Debug("Failed to close catalog watcher", "error", closeErr)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					logger.Warn("Failed to read catalog", "path", path, "error", err)
					continue
				}
				if err := s.Reload(data); err != nil {
					logger.Warn("Catalog reload rejected, keeping previous content", "path", path, "error", err)
					continue
				}
				logger.Info("Catalog reloaded", "path", path, "missing_details", len(s.Validate()))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("Catalog watcher error", "error", err)
			}
		}
	}()
	return nil
}
