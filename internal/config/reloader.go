package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/djbf-gateway/internal/crypto"
)

// ProfileReloader reloads the profiles file on change or SIGHUP and swaps the
// live keychain. A file that fails to parse leaves the active keychain in place.
type ProfileReloader struct {
	path    string
	live    *crypto.LiveKeychain
	logger  *logrus.Logger
	watcher *fsnotify.Watcher

	sigCh    chan os.Signal
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	onReload func(old, new *crypto.Keychain) error
	onResult func(path string, profiles int, err error)
}

// NewProfileReloader creates a reloader for path. With an empty path only
// SIGHUP is observed and reloads are no-ops.
func NewProfileReloader(path string, live *crypto.LiveKeychain, logger *logrus.Logger) (*ProfileReloader, error) {
	r := &ProfileReloader{
		path:   path,
		live:   live,
		logger: logger,
		sigCh:  make(chan os.Signal, 1),
		stopCh: make(chan struct{}),
	}

	if path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		// editors replace files, so watch the directory
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
		}
		r.watcher = watcher
	}

	signal.Notify(r.sigCh, syscall.SIGHUP)
	return r, nil
}

// SetOnReloadCallback registers a hook that runs before a new keychain is
// installed. Returning an error rejects the reload.
func (r *ProfileReloader) SetOnReloadCallback(fn func(old, new *crypto.Keychain) error) {
	r.mu.Lock()
	r.onReload = fn
	r.mu.Unlock()
}

// SetOnResultCallback registers a hook told about every triggered reload,
// successful or not.
func (r *ProfileReloader) SetOnResultCallback(fn func(path string, profiles int, err error)) {
	r.mu.Lock()
	r.onResult = fn
	r.mu.Unlock()
}

// Start processes file events and signals until Stop is called.
func (r *ProfileReloader) Start() {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if r.watcher != nil {
		events = r.watcher.Events
		errs = r.watcher.Errors
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-r.stopCh:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				r.reloadAndLog("file change")
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("Profiles file watcher error")
		case <-r.sigCh:
			if r.path == "" {
				r.logger.Debug("SIGHUP received but no profiles file is configured")
				continue
			}
			r.reloadAndLog("SIGHUP")
		}
	}
}

// Stop ends Start and releases the watcher.
func (r *ProfileReloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		signal.Stop(r.sigCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// Reload reads the profiles file and installs the result.
func (r *ProfileReloader) Reload() error {
	if r.path == "" {
		return fmt.Errorf("no profiles file configured")
	}

	next, err := LoadKeychain(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	cb := r.onReload
	r.mu.Unlock()

	old := r.live.Load()
	if cb != nil {
		if err := cb(old, next); err != nil {
			return fmt.Errorf("reload rejected: %w", err)
		}
	}

	r.live.Swap(next)
	return nil
}

func (r *ProfileReloader) reloadAndLog(trigger string) {
	err := r.Reload()
	profiles := len(r.live.Load().Profiles())

	r.mu.Lock()
	report := r.onResult
	r.mu.Unlock()
	if report != nil {
		report(r.path, profiles, err)
	}

	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"trigger": trigger,
			"path":    r.path,
		}).WithError(err).Error("Failed to reload key profiles, keeping current keychain")
		return
	}
	r.logger.WithFields(logrus.Fields{
		"trigger":  trigger,
		"path":     r.path,
		"profiles": profiles,
	}).Info("Reloaded key profiles")
}
