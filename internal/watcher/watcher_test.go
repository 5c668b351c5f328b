package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/httprunner/apkdeploy/pkg/deltafy"
)

func TestWatcherBatchesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "images"), 0o755))

	w, err := New(root, deltafy.DefaultInclude, 50*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "images", "a.png"), []byte("2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("x"), 0o644))

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !(seen["app.js"] && seen["a.png"]) {
		select {
		case batch, ok := <-w.Events():
			require.True(t, ok, "events closed early")
			for _, p := range batch.Paths {
				seen[filepath.Base(p)] = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for changes, saw %v", seen)
		}
	}
	require.False(t, seen[".DS_Store"], "ignored files must not be reported")
}

func TestWatcherClosesEventsOnCancel(t *testing.T) {
	w, err := New(t.TempDir(), nil, 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case _, ok := <-w.Events():
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed")
	}
}
