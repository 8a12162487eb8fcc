package internal

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	pkgconfig "github.com/Alcumus/awe-library/pkg/config"
)

// watchConfig watches the config file and applies log level changes at
// runtime. Only the log level is hot-reloaded; everything else requires a
// restart. Editors typically write via rename, so the watch is placed on
// the parent directory and events are filtered by filename.
func watchConfig(ctx context.Context, path string, level *slog.LevelVar, logger *slog.Logger) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher: create failed", slog.String("error", err.Error()))
		return
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		logger.Warn("config watcher: watch failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return
	}

	logger.Info("config watcher: started", slog.String("path", path))

	// reloadTimer debounces bursts of write events from a single save.
	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(200 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(200 * time.Millisecond)
		}
	}

	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("config watcher: stopped")
			return

		case <-reloadCh:
			reloadLogLevel(target, level, logger)

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher: error", slog.String("error", err.Error()))
		}
	}
}

func reloadLogLevel(path string, level *slog.LevelVar, logger *slog.Logger) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		logger.Warn("config watcher: reload failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	if cfg.App.LogLevel == level.Level() {
		return
	}
	logger.Info("config watcher: log level changed",
		slog.String("from", level.Level().String()),
		slog.String("to", cfg.App.LogLevel.String()))
	level.Set(cfg.App.LogLevel)
}
