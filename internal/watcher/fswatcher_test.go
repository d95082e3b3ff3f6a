package watcher

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

func startFS(t *testing.T, root string, opts Options) *FSWatcher {
	t.Helper()
	opts.Debounce = 30 * time.Millisecond
	w, err := NewFSWatcher(opts)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx, root))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

// waitFor collects batches until pred is satisfied.
func waitFor(t *testing.T, w Watcher, pred func(map[string]Kind) bool) map[string]Kind {
	t.Helper()
	seen := map[string]Kind{}
	deadline := time.After(3 * time.Second)
	for !pred(seen) {
		select {
		case batch, ok := <-w.Events():
			require.True(t, ok)
			for _, ev := range batch {
				seen[ev.Path] = ev.Kind
			}
		case <-deadline:
			t.Fatalf("timeout, saw %v", seen)
		}
	}
	return seen
}

func TestFSWatcher_CreateModifyRemove(t *testing.T) {
	// Given: a watched tree with an existing file
	root := t.TempDir()
	existing := filepath.Join(root, "old.go")
	require.NoError(t, os.WriteFile(existing, []byte("package old"), 0o644))
	w := startFS(t, root, Options{})

	// When: a file is created and the existing one removed
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("package n"), 0o644))
	require.NoError(t, os.Remove(existing))

	// Then: a Created and a Removed event arrive
	seen := waitFor(t, w, func(s map[string]Kind) bool { return len(s) >= 2 })
	assert.Equal(t, Created, seen["new.go"])
	assert.Equal(t, Removed, seen["old.go"])
}

func TestFSWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	w := startFS(t, root, Options{})

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitFor(t, w, func(s map[string]Kind) bool { _, ok := s["pkg"]; return ok })

	require.NoError(t, os.WriteFile(filepath.Join(sub, "x.go"), []byte("package pkg"), 0o644))
	seen := waitFor(t, w, func(s map[string]Kind) bool { _, ok := s["pkg/x.go"]; return ok })
	assert.Contains(t, []Kind{Created, Modified}, seen["pkg/x.go"])
}

func TestFSWatcher_IgnoresExcludedDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "vendor"), 0o755))
	w := startFS(t, root, Options{ExcludeDirs: []string{"vendor"}})

	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "v.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("x"), 0o644))

	seen := waitFor(t, w, func(s map[string]Kind) bool { _, ok := s["main.go"]; return ok })
	assert.NotContains(t, seen, "vendor/v.go")
}

func TestFSWatcher_StartRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	w, err := NewFSWatcher(Options{})
	if err != nil {
		t.Skip(err)
	}
	defer func() { _ = w.Stop() }()

	assert.Error(t, w.Start(context.Background(), file))
}

func TestFSWatcher_StopIsIdempotent(t *testing.T) {
	w := startFS(t, t.TempDir(), Options{})

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestFSWatcher_OverflowBecomesRescanEvent(t *testing.T) {
	// Given: a running watcher
	w := startFS(t, t.TempDir(), Options{})

	// When: the kernel queue overflows
	w.emitError(fsnotify.ErrEventOverflow)

	// Then: the consumer receives an Overflow event and the error
	batch := receive(t, w.Events(), 2*time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, Overflow, batch[0].Kind)
	assert.Empty(t, batch[0].Path)
	assert.ErrorIs(t, <-w.Errors(), fsnotify.ErrEventOverflow)
}

func TestFSWatcher_SlowConsumerLosesNothing(t *testing.T) {
	// Given: a watcher with room for a single undelivered batch
	root := t.TempDir()
	w := startFS(t, root, Options{EventBufferSize: 1})

	// When: several bursts arrive before anything is read
	for i := range 4 {
		name := filepath.Join(root, "f"+string(rune('a'+i))+".go")
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
		time.Sleep(80 * time.Millisecond)
	}

	// Then: every file is eventually delivered
	seen := waitFor(t, w, func(s map[string]Kind) bool { return len(s) == 4 })
	assert.Len(t, seen, 4)
}

func TestNew_SelectsPolling(t *testing.T) {
	w := New(Options{UsePolling: true})
	assert.IsType(t, &PollingWatcher{}, w)
	_ = w.Stop()
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "renamed", Renamed.String())
	assert.Equal(t, "overflow", Overflow.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
