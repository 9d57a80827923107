// Package upsert decides insert, update or no-op for one place record and
// records which mutable fields changed.
package upsert

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/store"
)

// Action is what Apply did with a record.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Outcome reports the result of one Apply.
type Outcome struct {
	PlaceID string
	Action  Action
	Changed []model.FieldTag
}

// Txer opens a company transaction. store.Store satisfies it.
type Txer interface {
	WithinTx(ctx context.Context, fn func(tx store.CompanyTx) error) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine applies place records to the company table.
type Engine struct {
	db  Txer
	now func() time.Time
}

// New creates an Engine writing through db.
func New(db Txer, opts ...Option) *Engine {
	e := &Engine{db: db, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply inserts rec if its place id is new. Otherwise it compares phone,
// website and rating, writes the changed values and stamps a change marker.
// An unchanged record leaves the row, including its marker, as it was.
// Each call is its own transaction; on error nothing from rec is persisted.
// An insert that loses a race with a concurrent run is retried once as an
// update.
func (e *Engine) Apply(ctx context.Context, rec model.PlaceRecord) (Outcome, error) {
	if rec.PlaceID == "" {
		return Outcome{PlaceID: rec.PlaceID}, eris.New("upsert: empty place id")
	}

	out, err := e.apply(ctx, rec)
	if errors.Is(err, store.ErrDuplicate) {
		zap.L().Debug("upsert: insert raced, retrying as update", zap.String("place_id", rec.PlaceID))
		out, err = e.apply(ctx, rec)
	}
	if err != nil {
		return Outcome{PlaceID: rec.PlaceID}, eris.Wrapf(err, "upsert: place %s", rec.PlaceID)
	}

	zap.L().Debug("upsert applied",
		zap.String("place_id", rec.PlaceID),
		zap.String("action", string(out.Action)),
		zap.Int("changed", len(out.Changed)),
	)
	return out, nil
}

func (e *Engine) apply(ctx context.Context, rec model.PlaceRecord) (Outcome, error) {
	out := Outcome{PlaceID: rec.PlaceID}
	err := e.db.WithinTx(ctx, func(tx store.CompanyTx) error {
		cur, err := tx.GetCompany(ctx, rec.PlaceID)
		if errors.Is(err, store.ErrNotFound) {
			out.Action = ActionInserted
			return tx.InsertCompany(ctx, model.NewCompany(rec, e.now().UTC()))
		}
		if err != nil {
			return err
		}

		changed := cur.Diff(rec)
		if len(changed) == 0 {
			out.Action = ActionUnchanged
			return nil
		}
		cur.UpdatedAt = &model.ChangeMarker{Fields: changed, At: e.now().UTC()}
		out.Action = ActionUpdated
		out.Changed = changed
		return tx.UpdateCompany(ctx, *cur)
	})
	return out, err
}
