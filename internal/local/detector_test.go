package local

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

const testWindow = 30 * time.Millisecond

func testDetector(dir string) *Detector {
	w := &Watcher{
		Events:   make(chan WatchEvent, 16),
		Errors:   make(chan error, 1),
		RootPath: dir,
	}
	return NewDetector(w, testWindow, []string{"*.tmp"})
}

func flushAll(t *testing.T, d *Detector) []ChangeEvent {
	t.Helper()
	d.flushDue(t.Context(), time.Now().Add(2*testWindow))

	var events []ChangeEvent
	for {
		select {
		case ev := <-d.out:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDetectorFlush(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T, string, *Detector)
	}{
		{
			name: "new file emits created",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "a.txt")
				writeFile(t, path, "hello")
				d.record(WatchEvent{Path: path, Op: fsnotify.Create})

				events := flushAll(t, d)
				require.Len(t, events, 1)
				require.Equal(t, path, events[0].Path)
				require.Equal(t, KindCreated, events[0].Kind)
			},
		},
		{
			name: "known file emits modified",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "a.txt")
				writeFile(t, path, "hello")
				d.known[path] = FileMeta{Size: 1, MTimeNS: 1}
				d.record(WatchEvent{Path: path, Op: fsnotify.Write})

				events := flushAll(t, d)
				require.Len(t, events, 1)
				require.Equal(t, KindModified, events[0].Kind)
			},
		},
		{
			name: "removed file emits deleted",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "a.txt")
				d.known[path] = FileMeta{Size: 1, MTimeNS: 1}
				d.record(WatchEvent{Path: path, Op: fsnotify.Remove})

				events := flushAll(t, d)
				require.Len(t, events, 1)
				require.Equal(t, KindDeleted, events[0].Kind)
				require.NotContains(t, d.known, path)
			},
		},
		{
			name: "renamed-away file emits renamed",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "a.txt")
				d.known[path] = FileMeta{Size: 1, MTimeNS: 1}
				d.record(WatchEvent{Path: path, Op: fsnotify.Rename})

				events := flushAll(t, d)
				require.Len(t, events, 1)
				require.Equal(t, KindRenamed, events[0].Kind)
			},
		},
		{
			name: "moved-away directory emits renamed for its files",
			do: func(t *testing.T, dir string, d *Detector) {
				sub := filepath.Join(dir, "sub")
				inner := filepath.Join(sub, "f.txt")
				deeper := filepath.Join(sub, "deep", "g.txt")
				sibling := filepath.Join(dir, "other.txt")
				d.known[inner] = FileMeta{Size: 1, MTimeNS: 1}
				d.known[deeper] = FileMeta{Size: 1, MTimeNS: 1}
				d.known[sibling] = FileMeta{Size: 1, MTimeNS: 1}
				d.record(WatchEvent{Path: sub, Op: fsnotify.Rename})

				events := flushAll(t, d)
				require.Len(t, events, 2)
				for _, ev := range events {
					require.Equal(t, KindRenamed, ev.Kind)
				}
				require.NotContains(t, d.known, inner)
				require.NotContains(t, d.known, deeper)
				require.Contains(t, d.known, sibling)
			},
		},
		{
			name: "removed directory emits deleted for its files",
			do: func(t *testing.T, dir string, d *Detector) {
				sub := filepath.Join(dir, "sub")
				inner := filepath.Join(sub, "f.txt")
				d.known[inner] = FileMeta{Size: 1, MTimeNS: 1}
				d.record(WatchEvent{Path: sub, Op: fsnotify.Remove})

				events := flushAll(t, d)
				require.Len(t, events, 1)
				require.Equal(t, inner, events[0].Path)
				require.Equal(t, KindDeleted, events[0].Kind)
			},
		},
		{
			name: "created and deleted within window emits nothing",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "fleeting.txt")
				d.record(WatchEvent{Path: path, Op: fsnotify.Create})
				d.record(WatchEvent{Path: path, Op: fsnotify.Remove})

				require.Empty(t, flushAll(t, d))
			},
		},
		{
			name: "burst collapses into one event",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "a.txt")
				writeFile(t, path, "hello")
				d.known[path] = FileMeta{Size: 1, MTimeNS: 1}
				for range 5 {
					d.record(WatchEvent{Path: path, Op: fsnotify.Write})
				}

				events := flushAll(t, d)
				require.Len(t, events, 1)
				require.Equal(t, KindModified, events[0].Kind)
			},
		},
		{
			name: "recreate within window emits modified, not delete",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "a.txt")
				writeFile(t, path, "new content")
				d.known[path] = FileMeta{Size: 1, MTimeNS: 1}
				d.record(WatchEvent{Path: path, Op: fsnotify.Remove})
				d.record(WatchEvent{Path: path, Op: fsnotify.Create})
				d.record(WatchEvent{Path: path, Op: fsnotify.Write})

				events := flushAll(t, d)
				require.Len(t, events, 1)
				require.Equal(t, KindModified, events[0].Kind)
			},
		},
		{
			name: "ignored pattern is filtered",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "scratch.tmp")
				writeFile(t, path, "x")
				d.record(WatchEvent{Path: path, Op: fsnotify.Create})

				require.Empty(t, d.pending)
				require.Empty(t, flushAll(t, d))
			},
		},
		{
			name: "chmod-only burst is filtered",
			do: func(t *testing.T, dir string, d *Detector) {
				path := filepath.Join(dir, "a.txt")
				d.record(WatchEvent{Path: path, Op: fsnotify.Chmod})

				require.Empty(t, d.pending)
			},
		},
		{
			name: "new directory records contained files",
			do: func(t *testing.T, dir string, d *Detector) {
				sub := filepath.Join(dir, "sub")
				require.NoError(t, os.MkdirAll(sub, 0755))
				writeFile(t, filepath.Join(sub, "inner.txt"), "x")
				d.record(WatchEvent{Path: sub, Op: fsnotify.Create})

				// First flush resolves the directory and queues its files,
				// second flush emits them.
				flushAll(t, d)
				events := flushAll(t, d)
				require.Len(t, events, 1)
				require.Equal(t, filepath.Join(sub, "inner.txt"), events[0].Path)
				require.Equal(t, KindCreated, events[0].Kind)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.do(t, dir, testDetector(dir))
		})
	}
}

func TestDetectorRescan(t *testing.T) {
	dir := t.TempDir()
	d := testDetector(dir)

	kept := filepath.Join(dir, "kept.txt")
	changed := filepath.Join(dir, "changed.txt")
	gone := filepath.Join(dir, "gone.txt")
	fresh := filepath.Join(dir, "fresh.txt")
	writeFile(t, kept, "kept")
	writeFile(t, changed, "changed")
	writeFile(t, fresh, "fresh")

	snap, err := Snapshot(dir, nil)
	require.NoError(t, err)

	d.known = map[string]FileMeta{
		kept:    snap[kept],
		changed: {Size: 1, MTimeNS: 1},
		gone:    {Size: 1, MTimeNS: 1},
	}

	d.rescan(t.Context())

	byPath := make(map[string]Kind)
	for {
		select {
		case ev := <-d.out:
			byPath[ev.Path] = ev.Kind
			continue
		default:
		}
		break
	}

	require.Equal(t, map[string]Kind{
		changed: KindModified,
		gone:    KindDeleted,
		fresh:   KindCreated,
	}, byPath)
	require.Equal(t, snap, d.known)
}

func TestSnapshotSkipsIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.tmp"), "b")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "c")

	snap, err := Snapshot(dir, []string{"*.tmp"})
	require.NoError(t, err)
	require.Len(t, snap, 2)
	require.Contains(t, snap, filepath.Join(dir, "a.txt"))
	require.Contains(t, snap, filepath.Join(dir, "sub", "c.txt"))
}
