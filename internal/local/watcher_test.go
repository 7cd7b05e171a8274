package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

func TestWatcherForwardsEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	require.Eventually(t, func() bool {
		select {
		case ev := <-w.Events:
			return ev.Path == path && ev.Op&fsnotify.Create != 0
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))

	// Wait for the directory event so the watch on sub is registered
	// before writing into it.
	require.Eventually(t, func() bool {
		select {
		case ev := <-w.Events:
			return ev.Path == sub
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	inner := filepath.Join(sub, "inner.txt")
	require.NoError(t, os.WriteFile(inner, []byte("x"), 0644))

	require.Eventually(t, func() bool {
		select {
		case ev := <-w.Events:
			return ev.Path == inner
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDetectorWithRealWatcher(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	d := NewDetector(w, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	go func() { _ = d.Run(ctx) }()

	// Give the detector time to take its initial snapshot.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	select {
	case ev := <-d.Events():
		require.Equal(t, path, ev.Path)
		require.Equal(t, KindCreated, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change event")
	}

	require.NoError(t, os.Remove(path))

	select {
	case ev := <-d.Events():
		require.Equal(t, path, ev.Path)
		require.Equal(t, KindDeleted, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delete event")
	}
}
