package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/torfstack/shore/internal/logging"
)

type Kind int

const (
	KindCreated Kind = iota
	KindModified
	KindDeleted
	KindRenamed
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEvent is one settled, file-level change. Renames surface as
// KindRenamed for the old path plus KindCreated for the new one, since
// the underlying notification API does not pair them.
type ChangeEvent struct {
	Path       string
	Kind       Kind
	ObservedAt time.Time
}

type pendingChange struct {
	ops      fsnotify.Op
	deadline time.Time
}

// Detector turns the raw watcher stream into debounced, normalized
// ChangeEvents. Bursts of events for the same path within the debounce
// window collapse into one event whose kind reflects the final state of
// the file on disk. Watch errors and overflow fall back to a full
// rescan diffed against the last-known snapshot.
type Detector struct {
	watcher *Watcher
	window  time.Duration
	ignores []string

	// known and pending are only touched by the Run goroutine.
	known   map[string]FileMeta
	pending map[string]*pendingChange

	out chan ChangeEvent
}

func NewDetector(watcher *Watcher, window time.Duration, ignores []string) *Detector {
	return &Detector{
		watcher: watcher,
		window:  window,
		ignores: ignores,
		known:   make(map[string]FileMeta),
		pending: make(map[string]*pendingChange),
		out:     make(chan ChangeEvent, 256),
	}
}

func (d *Detector) Events() <-chan ChangeEvent {
	return d.out
}

// Run consumes the watcher until ctx is canceled. It must be started
// alongside Watcher.Run.
func (d *Detector) Run(ctx context.Context) error {
	snap, err := Snapshot(d.watcher.RootPath, d.ignores)
	if err != nil {
		return err
	}
	d.known = snap

	for {
		var due <-chan time.Time
		if next, ok := d.nextDeadline(); ok {
			due = time.After(time.Until(next))
		}

		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			d.record(ev)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.Warnf("Watch overflow, falling back to full rescan of '%s'", d.watcher.RootPath)
			} else {
				logging.Warnf("Watch error, falling back to full rescan of '%s': %s", d.watcher.RootPath, err)
			}
			d.rescan(ctx)

		case now := <-due:
			d.flushDue(ctx, now)
		}
	}
}

func (d *Detector) record(ev WatchEvent) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if Ignored(ev.Path, d.ignores) {
		return
	}
	if p, ok := d.pending[ev.Path]; ok {
		p.ops |= ev.Op
		p.deadline = time.Now().Add(d.window)
		return
	}
	d.pending[ev.Path] = &pendingChange{ops: ev.Op, deadline: time.Now().Add(d.window)}
}

func (d *Detector) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, p := range d.pending {
		if next.IsZero() || p.deadline.Before(next) {
			next = p.deadline
		}
	}
	return next, !next.IsZero()
}

func (d *Detector) flushDue(ctx context.Context, now time.Time) {
	for path, p := range d.pending {
		if p.deadline.After(now) {
			continue
		}
		delete(d.pending, path)
		d.flush(ctx, path, p)
	}
}

// flush resolves the final state of path after its burst settled and
// emits at most one event for it.
func (d *Detector) flush(ctx context.Context, path string, p *pendingChange) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		// A freshly created directory may already contain files whose
		// create events raced the watch registration. Pick them up here.
		if p.ops&fsnotify.Create != 0 {
			d.recordSubtree(path)
		}

	case err == nil:
		meta := FileMeta{Size: info.Size(), MTimeNS: info.ModTime().UnixNano()}
		kind := KindModified
		if _, ok := d.known[path]; !ok {
			kind = KindCreated
		}
		d.known[path] = meta
		d.emit(ctx, ChangeEvent{Path: path, Kind: kind, ObservedAt: time.Now()})

	case errors.Is(err, fs.ErrNotExist):
		kind := KindDeleted
		if p.ops&fsnotify.Rename != 0 {
			kind = KindRenamed
		}
		if _, ok := d.known[path]; !ok {
			// Not a known file: either created and deleted within the
			// window (nothing to sync), or a directory that was moved or
			// removed, taking its files with it without events of their
			// own.
			d.flushVanishedDir(ctx, path, kind)
			return
		}
		delete(d.known, path)
		d.emit(ctx, ChangeEvent{Path: path, Kind: kind, ObservedAt: time.Now()})

	default:
		// Stat failed for some other reason. Do not guess: keep the
		// last-known state and let a later event or rescan settle it.
		logging.Debugf("Could not stat '%s' after change: %s", path, err)
	}
}

// flushVanishedDir emits one event per known file under a directory
// that disappeared. The watcher only reports the directory itself when
// it is renamed or moved away, never its contents.
func (d *Detector) flushVanishedDir(ctx context.Context, dir string, kind Kind) {
	prefix := dir + string(filepath.Separator)
	for path := range d.known {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		delete(d.known, path)
		d.emit(ctx, ChangeEvent{Path: path, Kind: kind, ObservedAt: time.Now()})
	}
}

func (d *Detector) recordSubtree(dir string) {
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		d.record(WatchEvent{Path: path, Op: fsnotify.Create})
		return nil
	})
	if err != nil {
		logging.Debugf("Could not scan new directory '%s': %s", dir, err)
	}
}

// rescan diffs a fresh snapshot against the last-known state and emits
// the difference. Used to recover from dropped watch events.
func (d *Detector) rescan(ctx context.Context) {
	snap, err := Snapshot(d.watcher.RootPath, d.ignores)
	if err != nil {
		logging.Warnf("Rescan of '%s' failed: %s", d.watcher.RootPath, err)
		return
	}

	for path, meta := range snap {
		old, ok := d.known[path]
		switch {
		case !ok:
			d.emit(ctx, ChangeEvent{Path: path, Kind: KindCreated, ObservedAt: time.Now()})
		case old != meta:
			d.emit(ctx, ChangeEvent{Path: path, Kind: KindModified, ObservedAt: time.Now()})
		}
	}
	for path := range d.known {
		if _, ok := snap[path]; !ok {
			d.emit(ctx, ChangeEvent{Path: path, Kind: KindDeleted, ObservedAt: time.Now()})
		}
	}
	d.known = snap
	clear(d.pending)
}

func (d *Detector) emit(ctx context.Context, ev ChangeEvent) {
	select {
	case d.out <- ev:
	case <-ctx.Done():
	}
}
