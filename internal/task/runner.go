// Package task runs one unit of collection work on a bounded worker pool and
// reports a terminal status string plus a per-task status log.
package task

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/places-cli/internal/store"
)

// StatusDone is the status of a task whose work returned nil.
const StatusDone = "done"

// WorkFunc is the body of a task. sess is a store session opened for this
// task alone and closed by the runner afterwards.
type WorkFunc func(ctx context.Context, sess store.Store, log *StatusLog) (any, error)

// Descriptor describes one unit of work.
type Descriptor struct {
	Name   string
	Params any
	Work   WorkFunc
}

// Result is the terminal state of a task.
type Result struct {
	ID      string        `json:"task_id"`
	Status  string        `json:"status"`
	Err     error         `json:"-"`
	Value   any           `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
	LogPath string        `json:"log_path,omitempty"`
}

// OK reports whether the task finished with status done.
func (r Result) OK() bool { return r.Status == StatusDone }

// Handle is returned by Submit. The id is known immediately; the result is
// available once Wait returns.
type Handle struct {
	ID   string
	done chan struct{}
	res  Result
}

// Wait blocks until the task has finished.
func (h *Handle) Wait() Result {
	<-h.done
	return h.res
}

// Runner executes tasks on a pool of at most `workers` goroutines.
type Runner struct {
	pool   errgroup.Group
	open   store.Opener
	logDir string
	now    func() time.Time
	newID  func() string
}

// NewRunner creates a Runner. workers < 1 means 1.
func NewRunner(open store.Opener, logDir string, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{open: open, logDir: logDir, now: time.Now, newID: uuid.NewString}
	r.pool.SetLimit(workers)
	return r
}

// Submit schedules d and returns its handle. It blocks while every worker
// is busy.
func (r *Runner) Submit(ctx context.Context, d Descriptor) *Handle {
	h := &Handle{ID: r.newID(), done: make(chan struct{})}
	r.pool.Go(func() error {
		defer close(h.done)
		h.res = r.execute(ctx, h.ID, d)
		return nil
	})
	return h
}

// Run submits d and waits for it.
func (r *Runner) Run(ctx context.Context, d Descriptor) Result {
	return r.Submit(ctx, d).Wait()
}

// Shutdown waits for every submitted task to finish.
func (r *Runner) Shutdown() {
	_ = r.pool.Wait()
}

func (r *Runner) execute(ctx context.Context, id string, d Descriptor) Result {
	start := r.now()
	log := zap.L().With(zap.String("task_id", id), zap.String("task", d.Name))

	status, err := OpenStatusLog(r.logDir, id)
	if err != nil {
		log.Warn("task: status log unavailable", zap.Error(err))
		status = NewStatusLog(io.Discard)
	}
	defer status.Close() //nolint:errcheck

	status.Printf("Task %s started at %s", id, start.UTC().Format(time.RFC3339))
	log.Info("task started", zap.Any("params", d.Params))

	value, err := r.work(ctx, d, status)

	res := Result{ID: id, Status: StatusDone, Value: value, Err: err, LogPath: status.Path()}
	if err != nil {
		res.Status = "failed: " + err.Error()
		status.Printf("Error occurred: %s", err)
		status.Printf("%s", eris.ToString(err, true))
	}
	res.Elapsed = r.now().Sub(start)

	status.Printf("Task %s finished with status: %s in %.2f seconds", id, res.Status, res.Elapsed.Seconds())
	if err != nil {
		log.Error("task failed", zap.Duration("elapsed", res.Elapsed), zap.Error(err))
	} else {
		log.Info("task finished", zap.Duration("elapsed", res.Elapsed))
	}
	return res
}

// work runs d.Work with a fresh session. The session is closed whatever the
// outcome and a panic comes back as an error.
func (r *Runner) work(ctx context.Context, d Descriptor, status *StatusLog) (value any, err error) {
	sess, err := r.open(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "task: open store session")
	}
	defer func() {
		if p := recover(); p != nil {
			value, err = nil, eris.Errorf("panic: %v", p)
		}
		if cerr := sess.Close(); cerr != nil {
			zap.L().Warn("task: close store session", zap.Error(cerr))
		}
	}()

	if d.Work == nil {
		return nil, eris.New("task: no work")
	}
	return d.Work(ctx, sess, status)
}
