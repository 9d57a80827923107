// Package app wires the collection, export, user and run operations behind
// one entry point shared by the CLI and the HTTP API. Every operation opens
// its own store session and closes it before returning.
package app

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/collector"
	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/sheets"
	"github.com/sells-group/places-cli/internal/store"
	"github.com/sells-group/places-cli/internal/task"
	"github.com/sells-group/places-cli/internal/users"
)

// App bundles the services behind the CLI and API.
type App struct {
	open      store.Opener
	runner    *task.Runner
	collector *collector.Collector
	exporter  *sheets.Exporter
	users     *users.Service
	cat       *catalog.Catalog
}

// New creates an App.
func New(open store.Opener, runner *task.Runner, c *collector.Collector, exp *sheets.Exporter, u *users.Service, cat *catalog.Catalog) *App {
	return &App{open: open, runner: runner, collector: c, exporter: exp, users: u, cat: cat}
}

// Catalog returns the loaded location catalog.
func (a *App) Catalog() *catalog.Catalog { return a.cat }

// CollectRequest is a collection optionally followed by an export to the
// user's spreadsheet.
type CollectRequest struct {
	collector.Request
	Export    bool `json:"export"`
	Overwrite bool `json:"overwrite"`
}

// CollectResult reports the task outcome and, when requested, the export.
type CollectResult struct {
	TaskID  string               `json:"task_id"`
	Status  string               `json:"status"`
	RunID   string               `json:"run_id,omitempty"`
	Elapsed float64              `json:"elapsed_seconds"`
	LogPath string               `json:"log_path,omitempty"`
	Summary *collector.Summary   `json:"summary,omitempty"`
	Export  *sheets.ExportResult `json:"export,omitempty"`
}

// OK reports whether the collection task finished with status done.
func (r CollectResult) OK() bool { return r.Status == task.StatusDone }

// Collect runs the collection as a task and waits for it. Task failures are
// reported in Status, not as an error. The export runs only when the task
// finished with status done; an export failure is returned alongside the
// task result.
func (a *App) Collect(ctx context.Context, req CollectRequest) (CollectResult, error) {
	res := a.runner.Run(ctx, task.Descriptor{
		Name:   "collect",
		Params: req.Request,
		Work:   a.collector.Work(req.Request),
	})
	out := CollectResult{
		TaskID:  res.ID,
		Status:  res.Status,
		Elapsed: res.Elapsed.Seconds(),
		LogPath: res.LogPath,
	}
	if sum, ok := res.Value.(collector.Summary); ok {
		out.RunID = sum.RunID
		if res.OK() {
			out.Summary = &sum
		}
	}
	if !req.Export || !res.OK() {
		return out, nil
	}

	n, _ := req.Request.Normalize()
	exp, err := a.Export(ctx, ExportRequest{
		UserID:    n.UserID,
		Keyword:   n.Keyword,
		State:     n.State,
		Tier:      n.Tier,
		City:      n.City,
		Overwrite: req.Overwrite,
	})
	if err != nil {
		return out, eris.Wrap(err, "app: export after collect")
	}
	out.Export = &exp
	return out, nil
}

// ExportRequest exports a user's companies to that user's spreadsheet.
type ExportRequest struct {
	UserID    string       `json:"user_id"`
	Keyword   string       `json:"keyword,omitempty"`
	State     string       `json:"state,omitempty"`
	Tier      catalog.Tier `json:"tier,omitempty"`
	City      string       `json:"city,omitempty"`
	Overwrite bool         `json:"overwrite"`
}

// Export writes the filtered companies to the user's spreadsheet and shares
// it with the user's email.
func (a *App) Export(ctx context.Context, req ExportRequest) (sheets.ExportResult, error) {
	var res sheets.ExportResult
	err := a.withStore(ctx, func(st store.Store) error {
		u, err := a.users.Get(ctx, st, req.UserID)
		if err != nil {
			return err
		}
		res, err = a.exporter.Export(ctx, st, sheets.ExportRequest{
			SpreadsheetID: model.Deref(u.SpreadsheetID),
			Overwrite:     req.Overwrite,
			ShareWith:     u.Email,
			Keyword:       req.Keyword,
			State:         req.State,
			Tier:          req.Tier,
			City:          req.City,
		})
		return err
	})
	return res, err
}

// Register creates or updates a user.
func (a *App) Register(ctx context.Context, userID, email string) (*model.User, bool, error) {
	var (
		u       *model.User
		created bool
	)
	err := a.withStore(ctx, func(st store.Store) error {
		var err error
		u, created, err = a.users.Register(ctx, st, userID, email)
		return err
	})
	return u, created, err
}

// User returns a registered user.
func (a *App) User(ctx context.Context, userID string) (*model.User, error) {
	var u *model.User
	err := a.withStore(ctx, func(st store.Store) error {
		var err error
		u, err = a.users.Get(ctx, st, userID)
		return err
	})
	return u, err
}

// Runs lists job runs newest first.
func (a *App) Runs(ctx context.Context, filter store.RunFilter) ([]model.JobRun, error) {
	var runs []model.JobRun
	err := a.withStore(ctx, func(st store.Store) error {
		var err error
		runs, err = st.ListJobRuns(ctx, filter)
		return err
	})
	return runs, err
}

// Run returns one job run and the place ids linked to it.
func (a *App) Run(ctx context.Context, id string) (*model.JobRun, []string, error) {
	var (
		run *model.JobRun
		ids []string
	)
	err := a.withStore(ctx, func(st store.Store) error {
		var err error
		if run, err = st.GetJobRun(ctx, id); err != nil {
			return err
		}
		ids, err = st.RunCompanies(ctx, id)
		return err
	})
	return run, ids, err
}

// IsNotFound reports whether err means a missing user or run.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func (a *App) withStore(ctx context.Context, fn func(st store.Store) error) error {
	st, err := a.open(ctx)
	if err != nil {
		return eris.Wrap(err, "app: open store")
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			zap.L().Warn("app: close store", zap.Error(cerr))
		}
	}()
	return fn(st)
}
