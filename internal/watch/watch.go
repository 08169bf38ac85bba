// Package watch monitors the local sync directory for filesystem changes and
// triggers a debounced sync cycle, backing the `sync --watch` CLI mode.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce/backoff tuning. A burst of filesystem events (e.g. an editor's
// save-via-rename) collapses into one sync call debounceWindow after the
// last event; a watcher setup failure retries with backoff up to watchErrMaxBackoff.
const (
	debounceWindow      = 500 * time.Millisecond
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// FsWatcher abstracts filesystem event monitoring, satisfied by
// *fsnotify.Watcher; tests inject a fake implementation.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// SyncFunc is called once per debounced burst of filesystem activity.
type SyncFunc func(ctx context.Context) error

// Watcher watches syncRoot (recursively) and calls trigger after each burst
// of changes settles for debounceWindow.
type Watcher struct {
	syncRoot string
	trigger  SyncFunc
	logger   *slog.Logger

	watcherFactory func() (FsWatcher, error)
}

// New builds a Watcher over syncRoot. trigger is invoked on its own
// goroutine per debounced burst; Run does not wait for it to finish before
// watching for the next burst.
func New(syncRoot string, trigger SyncFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		syncRoot: syncRoot,
		trigger:  trigger,
		logger:   logger,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// Run watches the sync root until ctx is cancelled. On a watcher setup
// failure it retries with exponential backoff rather than giving up, since
// the sync root may be transiently unavailable (e.g. an unmounted volume).
func (w *Watcher) Run(ctx context.Context) error {
	backoff := watchErrInitBackoff

	for {
		err := w.runOnce(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}

		w.logger.Warn("watch: restarting after error", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= watchErrBackoffMult
		if backoff > watchErrMaxBackoff {
			backoff = watchErrMaxBackoff
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) error {
	fw, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("watch: creating fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := addRecursive(fw, w.syncRoot); err != nil {
		return fmt.Errorf("watch: watching %s: %w", w.syncRoot, err)
	}

	var debounce *time.Timer

	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}

			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return fmt.Errorf("watch: event channel closed")
			}

			w.logger.Debug("watch: event", "path", ev.Name, "op", ev.Op.String())

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := fsStat(ev.Name); statErr == nil && info.IsDir() {
					_ = fw.Add(ev.Name)
				}
			}

			if debounce == nil {
				debounce = time.AfterFunc(debounceWindow, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(debounceWindow)
			}

		case err, ok := <-fw.Errors():
			if !ok {
				return fmt.Errorf("watch: error channel closed")
			}

			w.logger.Warn("watch: fsnotify error", "err", err)

		case <-fire:
			go func() {
				if err := w.trigger(ctx); err != nil {
					w.logger.Warn("watch: triggered sync failed", "err", err)
				}
			}()
		}
	}
}

func addRecursive(fw FsWatcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return fw.Add(path)
		}

		return nil
	})
}

// fsStat is indirected so tests can avoid touching the real filesystem for
// the directory-detection branch above.
var fsStat = os.Stat
