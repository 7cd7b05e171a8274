package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/torfstack/shore/internal/db"
	"github.com/torfstack/shore/internal/logging"
	"github.com/torfstack/shore/internal/remote"
)

type Action int

const (
	ActionUpload Action = iota
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Task is one unit of work against the remote store. It is owned by a
// single worker from dispatch until it finishes or runs out of attempts.
type Task struct {
	LocalPath string
	RemoteKey string
	Action    Action
	Attempt   int
}

// Worker performs tasks against the store, retrying transient backend
// failures with exponential backoff. Baseline updates follow successful
// operations so the next startup reconciliation sees them.
type Worker struct {
	store       remote.Store
	state       *State
	baseline    *db.Database
	maxAttempts int
	retryBase   time.Duration
	status      func(string)
}

func NewWorker(store remote.Store, state *State, baseline *db.Database, maxAttempts int, retryBase time.Duration, status func(string)) *Worker {
	if status == nil {
		status = logging.Info
	}
	return &Worker{
		store:       store,
		state:       state,
		baseline:    baseline,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		status:      status,
	}
}

func (w *Worker) Process(ctx context.Context, task Task) error {
	switch task.Action {
	case ActionUpload:
		return w.upload(ctx, task)
	case ActionDelete:
		return w.delete(ctx, task)
	default:
		return fmt.Errorf("unknown action %d for '%s'", task.Action, task.RemoteKey)
	}
}

func (w *Worker) upload(ctx context.Context, task Task) error {
	var (
		sum  string
		size int64
	)
	vanished := false

	err := w.withRetries(ctx, &task, func(ctx context.Context) error {
		f, err := os.Open(task.LocalPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// A delete event is already on its way; nothing to upload.
			vanished = true
			return nil
		case err != nil:
			// Local read errors are benign for uploads, the file may be
			// locked or mid-rename. Report and move on.
			w.status(fmt.Sprintf("upload skipped, cannot read '%s': %s", task.LocalPath, err))
			vanished = true
			return nil
		}
		defer func(f *os.File) {
			if err = f.Close(); err != nil {
				logging.Debugf("Could not close '%s': %s", task.LocalPath, err)
			}
		}(f)

		hasher := sha256.New()
		if err = w.store.Put(ctx, task.RemoteKey, io.TeeReader(f, hasher)); err != nil {
			if remote.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		sum = hex.EncodeToString(hasher.Sum(nil))
		if info, statErr := f.Stat(); statErr == nil {
			size = info.Size()
		}
		return nil
	})
	if err != nil {
		w.status(fmt.Sprintf("upload failed: '%s' (attempt %d): %s", task.RemoteKey, task.Attempt, err))
		return err
	}
	if vanished {
		return nil
	}

	w.state.MarkGood(task.RemoteKey, time.Now())
	w.updateBaseline(ctx, task.LocalPath, size, sum)
	w.status(fmt.Sprintf("upload ok: '%s' (%d bytes, sha256 %.8s)", task.RemoteKey, size, sum))
	return nil
}

func (w *Worker) delete(ctx context.Context, task Task) error {
	err := w.withRetries(ctx, &task, func(ctx context.Context) error {
		// Store.Delete treats a missing key as success already.
		if err := w.store.Delete(ctx, task.RemoteKey); err != nil {
			if remote.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		w.status(fmt.Sprintf("delete failed: '%s' (attempt %d): %s", task.RemoteKey, task.Attempt, err))
		return err
	}

	w.state.Forget(task.RemoteKey)
	if w.baseline != nil {
		if err = w.baseline.Delete(ctx, task.LocalPath); err != nil {
			logging.Error("Could not remove baseline entry", err)
		}
	}
	w.status(fmt.Sprintf("delete ok: '%s'", task.RemoteKey))
	return nil
}

func (w *Worker) withRetries(ctx context.Context, task *Task, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(w.maxAttempts-1), retry.NewExponential(w.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		task.Attempt++
		if task.Attempt > 1 {
			logging.Debugf("Retrying %s of '%s' (attempt %d)", task.Action, task.RemoteKey, task.Attempt)
		}
		return fn(ctx)
	})
}

func (w *Worker) updateBaseline(ctx context.Context, localPath string, size int64, sum string) {
	if w.baseline == nil {
		return
	}
	info, err := os.Stat(localPath)
	mtime := int64(0)
	if err == nil {
		mtime = info.ModTime().UnixNano()
	}
	err = w.baseline.Upsert(ctx, db.Entry{
		Path:     localPath,
		Size:     size,
		MTimeNS:  mtime,
		SHA256:   sum,
		SyncedAt: time.Now().Unix(),
	})
	if err != nil {
		logging.Error("Could not update baseline entry", err)
	}
}
