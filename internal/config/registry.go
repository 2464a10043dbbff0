package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry holds the current sites configuration. Readers always see a
// complete document; reloads swap it atomically.
type Registry struct {
	path   string
	inline string
	logger *slog.Logger

	current atomic.Pointer[Sites]
}

// NewRegistry wraps an already parsed configuration.
func NewRegistry(sites *Sites) *Registry {
	r := &Registry{logger: slog.Default()}
	r.current.Store(sites)
	return r
}

// LoadRegistry reads the sites configuration once.
func LoadRegistry(path, inline string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sites, err := ReadSites(path, inline)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path, inline: inline, logger: logger}
	r.current.Store(sites)
	return r, nil
}

// Sites returns the current configuration.
func (r *Registry) Sites() *Sites {
	return r.current.Load()
}

// Reload rereads the file. On error the previous configuration stays active.
func (r *Registry) Reload() error {
	sites, err := ReadSites(r.path, r.inline)
	if err != nil {
		return err
	}
	r.current.Store(sites)
	return nil
}

// Watch reloads the sites file when it changes until ctx is done. Inline
// configuration is never watched.
func (r *Registry) Watch(ctx context.Context) error {
	if r.inline != "" || r.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch sites config: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch sites config directory: %w", err)
	}

	var lastHash [sha256.Size]byte
	if raw, err := os.ReadFile(r.path); err == nil {
		lastHash = sha256.Sum256(raw)
	}

	process := func() {
		raw, err := os.ReadFile(r.path)
		if err != nil {
			r.logger.Warn("sites config unreadable, keeping previous", "path", r.path, "error", err)
			return
		}
		sum := sha256.Sum256(raw)
		if sum == lastHash {
			return
		}
		lastHash = sum
		sites, err := ParseSites(raw)
		if err != nil {
			r.logger.Warn("sites config invalid, keeping previous", "path", r.path, "error", err)
			return
		}
		r.current.Store(sites)
		r.logger.Info("sites config reloaded", "path", r.path, "sites", len(sites.Sites))
	}

	var (
		pending     bool
		pendingFrom time.Time
	)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ticker.C:
			if pending && time.Since(pendingFrom) >= 120*time.Millisecond {
				process()
				pending = false
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = true
				pendingFrom = time.Now()
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("sites config watcher error", "error", watchErr)
		case <-ctx.Done():
			return nil
		}
	}
}
