package config

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Store holds the active configuration snapshot. Readers get an immutable
// tree; Reload swaps the pointer atomically so in-flight requests keep the
// snapshot they started with.
type Store struct {
	current atomic.Pointer[Config]
	path    string
	logger  *logrus.Logger
}

// NewStore creates a store seeded with the given snapshot.
func NewStore(cfg *Config, path string, logger *logrus.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.current.Store(cfg)
	return s
}

// Snapshot returns the active configuration.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// Reload re-reads the configuration source. On failure the previous snapshot
// stays active and the error is returned.
func (s *Store) Reload() error {
	cfg, err := Load(s.path, s.logger)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Error("Configuration reload failed, keeping previous snapshot")
		}
		return err
	}
	s.current.Store(cfg)
	if s.logger != nil {
		s.logger.Info("Configuration reloaded")
	}
	return nil
}

// Watch reloads the configuration whenever the backing file changes. It
// returns once ctx is cancelled. No-op when the store has no file path.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file on save, which drops the
	// watch if it targets the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			_ = s.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if s.logger != nil {
				s.logger.WithError(err).Warn("Configuration watcher error")
			}
		}
	}
}
