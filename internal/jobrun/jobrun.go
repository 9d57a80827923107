// Package jobrun records collection runs and the companies each run touched.
package jobrun

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/store"
)

// ErrUnknownUser is returned by Begin when the user has not registered.
var ErrUnknownUser = eris.New("jobrun: unknown user")

// ErrFinished is returned by Link for a run that has already ended.
var ErrFinished = eris.New("jobrun: run already finished")

// Store is the persistence surface the tracker needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	CreateJobRun(ctx context.Context, run model.JobRun) error
	FinishJobRun(ctx context.Context, runID string, at time.Time) (bool, error)
	LinkCompany(ctx context.Context, runID, placeID string, at time.Time) (bool, error)
}

// Tracker creates, links and finalizes job runs.
type Tracker struct {
	st    Store
	now   func() time.Time
	newID func() string
}

// New creates a Tracker over st.
func New(st Store) *Tracker {
	return &Tracker{st: st, now: time.Now, newID: uuid.NewString}
}

// Begin resolves the user and persists a new run. An unknown user fails
// with ErrUnknownUser and writes nothing.
func (t *Tracker) Begin(ctx context.Context, userID string, params model.RunParams) (*model.JobRun, error) {
	if _, err := t.st.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrUnknownUser, "user %q", userID)
		}
		return nil, eris.Wrap(err, "jobrun: resolve user")
	}

	run := &model.JobRun{
		ID:        t.newID(),
		UserID:    userID,
		Params:    params,
		StartedAt: t.now().UTC(),
	}
	if err := t.st.CreateJobRun(ctx, *run); err != nil {
		return nil, eris.Wrap(err, "jobrun: create")
	}

	zap.L().Info("job run started",
		zap.String("run_id", run.ID),
		zap.String("user_id", userID),
		zap.String("keyword", params.Keyword),
	)
	return run, nil
}

// Link associates placeID with run. It reports whether a new association
// was created; linking the same pair twice is a no-op.
func (t *Tracker) Link(ctx context.Context, run *model.JobRun, placeID string) (bool, error) {
	if run.Finished() {
		return false, eris.Wrapf(ErrFinished, "run %s", run.ID)
	}
	created, err := t.st.LinkCompany(ctx, run.ID, placeID, t.now().UTC())
	if err != nil {
		return false, eris.Wrap(err, "jobrun: link")
	}
	return created, nil
}

// End stamps finished_at. Calling it again is a no-op.
func (t *Tracker) End(ctx context.Context, run *model.JobRun) error {
	if run.Finished() {
		return nil
	}
	at := t.now().UTC()
	stamped, err := t.st.FinishJobRun(ctx, run.ID, at)
	if err != nil {
		return eris.Wrap(err, "jobrun: finish")
	}
	if stamped {
		run.FinishedAt = &at
		zap.L().Info("job run finished", zap.String("run_id", run.ID), zap.Duration("elapsed", at.Sub(run.StartedAt)))
	}
	return nil
}
