// Package sync contains the live synchronization core: the engine that
// turns change events into per-key serialized upload and delete tasks,
// the worker pool that executes them, and the auditor that reconciles
// drift between the bucket and the local tree.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	gosync "sync"
	"time"

	"github.com/torfstack/shore/internal/config"
	"github.com/torfstack/shore/internal/db"
	"github.com/torfstack/shore/internal/local"
	"github.com/torfstack/shore/internal/logging"
	"github.com/torfstack/shore/internal/remote"
)

type EngineState int

const (
	EngineStopped EngineState = iota
	EngineStarting
	EngineRunning
	EngineStopping
	EngineFailed
)

func (s EngineState) String() string {
	switch s {
	case EngineStopped:
		return "stopped"
	case EngineStarting:
		return "starting"
	case EngineRunning:
		return "running"
	case EngineStopping:
		return "stopping"
	case EngineFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Permanent backend failures in a row before the engine gives up and
// transitions to EngineFailed.
const permanentFailureLimit = 3

type completion struct {
	task Task
	err  error
}

type Option func(*Engine)

// WithStatus routes every notable action (start, upload ok/fail, delete,
// abandonment) through fn instead of the default logger.
func WithStatus(fn func(string)) Option {
	return func(e *Engine) {
		e.status = fn
	}
}

// WithBaseline makes the engine maintain the persisted baseline and run
// a startup reconciliation against it.
func WithBaseline(d *db.Database) Option {
	return func(e *Engine) {
		e.baseline = d
	}
}

// Engine owns the watcher, detector, dispatcher and worker pool.
// Events for the same remote key never run concurrently: the dispatcher
// holds the key in-flight and queues later arrivals in order.
type Engine struct {
	cfg      config.Config
	store    remote.Store
	mapper   *remote.Mapper
	baseline *db.Database
	status   func(string)

	keys   *State
	worker *Worker

	mu          gosync.Mutex
	state       EngineState
	watchCancel context.CancelFunc
	workCancel  context.CancelFunc
	drained     chan struct{}
	workersWg   gosync.WaitGroup

	// Owned by the dispatcher goroutine.
	jobs        chan Task
	completions chan completion
	pending     map[string][]Task
	draining    bool
	permFails   int
}

func NewEngine(cfg config.Config, store remote.Store, mapper *remote.Mapper, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		mapper: mapper,
		status: logging.Info,
		keys:   NewState(),
		state:  EngineStopped,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.worker = NewWorker(store, e.keys, e.baseline, cfg.MaxAttempts, cfg.RetryBase, e.status)
	return e
}

func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Keys exposes the in-flight tracker, shared with the auditor so it can
// avoid purging an object that is mid-upload.
func (e *Engine) Keys() *State {
	return e.keys
}

// Start validates the root, establishes the watch and brings up the
// worker pool. Calling Start while already running is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case EngineRunning, EngineStarting:
		e.mu.Unlock()
		e.status("sync already running")
		return nil
	case EngineStopping:
		e.mu.Unlock()
		return errors.New("engine is stopping, cannot start")
	}
	e.state = EngineStarting
	e.mu.Unlock()

	info, err := os.Stat(e.cfg.LocalDir)
	if err != nil || !info.IsDir() {
		e.setState(EngineFailed)
		return fmt.Errorf("local directory '%s' is not usable: %w", e.cfg.LocalDir, err)
	}
	if _, err = os.ReadDir(e.cfg.LocalDir); err != nil {
		e.setState(EngineFailed)
		return fmt.Errorf("local directory '%s' is not readable: %w", e.cfg.LocalDir, err)
	}

	watcher, err := local.NewWatcher(e.cfg.LocalDir)
	if err != nil {
		e.setState(EngineFailed)
		return fmt.Errorf("could not establish watch on '%s': %w", e.cfg.LocalDir, err)
	}
	detector := local.NewDetector(watcher, e.cfg.DebounceWindow, e.cfg.IgnorePatterns)

	initial, err := e.reconcileStartup(ctx)
	if err != nil {
		logging.Error("Startup reconciliation failed, continuing with live sync only", err)
		initial = nil
	}

	watchCtx, watchCancel := context.WithCancel(context.WithoutCancel(ctx))
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))

	e.mu.Lock()
	e.watchCancel = watchCancel
	e.workCancel = workCancel
	e.drained = make(chan struct{})
	e.mu.Unlock()

	e.jobs = make(chan Task, e.cfg.Workers)
	e.completions = make(chan completion, e.cfg.Workers)
	e.pending = make(map[string][]Task)
	e.draining = false
	e.permFails = 0

	go func() {
		<-watchCtx.Done()
		watcher.Close()
	}()
	go func() {
		if err := watcher.Run(watchCtx); err != nil {
			logging.Error("Watcher stopped", err)
		}
	}()
	go func() {
		if err := detector.Run(watchCtx); err != nil {
			logging.Error("Change detector stopped", err)
		}
	}()

	for range e.cfg.Workers {
		e.workersWg.Add(1)
		go e.runWorker(workCtx)
	}
	go e.runDispatcher(watchCtx, detector.Events(), initial)

	e.setState(EngineRunning)
	e.status(fmt.Sprintf("sync active: '%s' -> bucket '%s' prefix '%s'", e.cfg.LocalDir, e.cfg.Bucket, e.mapper.Prefix()))
	return nil
}

// Stop stops event production and drains in-flight tasks. Tasks still
// running past the grace deadline are abandoned with one notice each.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != EngineRunning && e.state != EngineFailed {
		e.mu.Unlock()
		return nil
	}
	e.state = EngineStopping
	watchCancel := e.watchCancel
	workCancel := e.workCancel
	drained := e.drained
	e.mu.Unlock()

	e.status("stopping: draining in-flight tasks")
	watchCancel()

	select {
	case <-drained:
	case <-time.After(e.cfg.GraceDeadline):
		for _, key := range e.keys.InFlightKeys() {
			e.status(fmt.Sprintf("abandoned in-flight task: '%s'", key))
		}
		workCancel()
		<-drained
	}

	workCancel()
	e.workersWg.Wait()

	e.setState(EngineStopped)
	e.status("sync stopped")
	return nil
}

func (e *Engine) setState(s EngineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

func (e *Engine) runWorker(ctx context.Context) {
	defer e.workersWg.Done()
	for task := range e.jobs {
		err := e.worker.Process(ctx, task)
		// May block when the buffer is full, but the dispatcher drains
		// completions even while enqueueing, so this always frees up.
		e.completions <- completion{task: task, err: err}
	}
}

func (e *Engine) runDispatcher(ctx context.Context, events <-chan local.ChangeEvent, initial []Task) {
	defer close(e.drained)

	for _, task := range initial {
		e.dispatch(task)
	}

	done := ctx.Done()
	for {
		if e.draining && e.keys.InFlightCount() == 0 {
			e.abandonPending()
			close(e.jobs)
			return
		}

		select {
		case <-done:
			done = nil
			events = nil
			e.draining = true
		case ev, ok := <-events:
			if !ok {
				events = nil
				e.draining = true
				continue
			}
			if task, ok := e.taskFor(ev); ok {
				e.dispatch(task)
			}
		case c := <-e.completions:
			e.finish(c)
		}
	}
}

func (e *Engine) taskFor(ev local.ChangeEvent) (Task, bool) {
	key, err := e.mapper.ToRemoteKey(ev.Path)
	if err != nil {
		logging.Debugf("Skipping unmappable path '%s': %s", ev.Path, err)
		return Task{}, false
	}
	action := ActionUpload
	if ev.Kind == local.KindDeleted || ev.Kind == local.KindRenamed {
		action = ActionDelete
	}
	return Task{LocalPath: ev.Path, RemoteKey: key, Action: action}, true
}

func (e *Engine) dispatch(task Task) {
	if !e.keys.TryAcquire(task.RemoteKey) {
		e.pending[task.RemoteKey] = append(e.pending[task.RemoteKey], task)
		return
	}
	e.send(task)
}

// send enqueues a task for the workers. A bare channel send here could
// deadlock: with the jobs buffer full and every worker blocked on a
// completions send, nobody would make progress. Draining completions
// while waiting is what frees a worker to take the job.
func (e *Engine) send(task Task) {
	for {
		select {
		case e.jobs <- task:
			return
		case c := <-e.completions:
			e.finish(c)
		}
	}
}

func (e *Engine) finish(c completion) {
	key := c.task.RemoteKey

	switch {
	case c.err == nil:
		e.permFails = 0
	case errors.Is(c.err, context.Canceled) || errors.Is(c.err, context.DeadlineExceeded):
		// Shutdown or abort, not a backend verdict.
	case !remote.IsTransient(c.err):
		e.permFails++
		if e.permFails >= permanentFailureLimit && !e.draining {
			e.status(fmt.Sprintf("%d permanent backend failures in a row, giving up", e.permFails))
			e.setState(EngineFailed)
			e.draining = true
			e.mu.Lock()
			watchCancel := e.watchCancel
			e.mu.Unlock()
			watchCancel()
		}
	}

	if queue := e.pending[key]; len(queue) > 0 && !e.draining {
		next := queue[0]
		if len(queue) == 1 {
			delete(e.pending, key)
		} else {
			e.pending[key] = queue[1:]
		}
		// The key stays acquired, ordering per key is preserved.
		e.send(next)
		return
	}

	e.keys.Release(key)
}

func (e *Engine) abandonPending() {
	for key, queue := range e.pending {
		for range queue {
			e.status(fmt.Sprintf("abandoned queued task: '%s'", key))
		}
		delete(e.pending, key)
	}
}

// reconcileStartup diffs the current tree against the persisted baseline
// and returns the tasks needed to cover changes made while the daemon
// was not running.
func (e *Engine) reconcileStartup(ctx context.Context) ([]Task, error) {
	if e.baseline == nil {
		return nil, nil
	}
	base, err := e.baseline.All(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := local.Snapshot(e.cfg.LocalDir, e.cfg.IgnorePatterns)
	if err != nil {
		return nil, err
	}

	var tasks []Task
	for path, meta := range snap {
		if entry, ok := base[path]; ok && entry.Size == meta.Size && entry.MTimeNS == meta.MTimeNS {
			continue
		}
		key, err := e.mapper.ToRemoteKey(path)
		if err != nil {
			continue
		}
		tasks = append(tasks, Task{LocalPath: path, RemoteKey: key, Action: ActionUpload})
	}
	for path := range base {
		if _, ok := snap[path]; ok {
			continue
		}
		key, err := e.mapper.ToRemoteKey(path)
		if err != nil {
			continue
		}
		tasks = append(tasks, Task{LocalPath: path, RemoteKey: key, Action: ActionDelete})
	}

	if len(tasks) > 0 {
		e.status(fmt.Sprintf("startup reconciliation: %d change(s) since last run", len(tasks)))
	}
	return tasks, nil
}
