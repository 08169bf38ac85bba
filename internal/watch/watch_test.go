package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	events chan fsnotify.Event
	errs   chan error
	added  []string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan fsnotify.Event, 8), errs: make(chan error, 1)}
}

func (f *fakeWatcher) Add(name string) error         { f.added = append(f.added, name); return nil }
func (f *fakeWatcher) Close() error                  { return nil }
func (f *fakeWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error           { return f.errs }

func TestWatcherDebouncesBurstIntoOneTrigger(t *testing.T) {
	dir := t.TempDir()

	fw := newFakeWatcher()

	triggerCount := 0
	done := make(chan struct{})

	w := New(dir, func(ctx context.Context) error {
		triggerCount++
		close(done)

		return nil
	}, nil)
	w.watcherFactory = func() (FsWatcher, error) { return fw, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Run(ctx) }()

	for i := 0; i < 5; i++ {
		fw.events <- fsnotify.Event{Name: filepath.Join(dir, "a.txt"), Op: fsnotify.Write}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never fired")
	}

	assert.Equal(t, 1, triggerCount)
}

func TestAddRecursiveWatchesSubdirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	fw := newFakeWatcher()
	require.NoError(t, addRecursive(fw, dir))

	assert.Contains(t, fw.added, dir)
	assert.Contains(t, fw.added, sub)
}
