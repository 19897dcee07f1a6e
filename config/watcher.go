package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file on change and applies the log level live.
// Other keys need a restart.
type Watcher struct {
	cfg    *Config
	logger *slog.Logger

	fs   *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher returns a watcher for the file cfg was loaded from. Without a
// file, Start and Close are no-ops.
func NewWatcher(cfg *Config, logger *slog.Logger) *Watcher {
	return &Watcher{cfg: cfg, logger: logger}
}

// Start watches the file's directory, so editors that replace the file by
// rename are still seen.
func (w *Watcher) Start() error {
	if w.cfg.file == "" || w.fs != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.cfg.file)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config: watch %s: %w", w.cfg.file, err)
	}

	w.fs = fsw
	w.done = make(chan struct{})
	go w.loop()

	w.logger.Info("CONFIG_WATCH_STARTED", "file", w.cfg.file)
	return nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	if w.fs == nil {
		return nil
	}
	err := w.fs.Close()
	<-w.done
	w.fs = nil
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	target := filepath.Clean(w.cfg.file)

	for {
		select {
		case e, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != target || !(e.Has(fsnotify.Write) || e.Has(fsnotify.Create)) {
				continue
			}
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("CONFIG_WATCH_FAILED", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	v := w.cfg.source
	if err := v.ReadInConfig(); err != nil {
		w.logger.Warn("CONFIG_RELOAD_REJECTED", "file", w.cfg.file, "err", err)
		return
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v.GetString("service.log_level"))); err != nil {
		w.logger.Warn("CONFIG_RELOAD_REJECTED", "file", w.cfg.file, "err", err)
		return
	}
	if lvl == w.cfg.LogLevel.Level() {
		return
	}
	w.cfg.LogLevel.Set(lvl)
	w.logger.Info("CONFIG_RELOADED", "file", w.cfg.file, "log_level", lvl.String())
}
