// Package collector walks the catalog scope of a request, streams places for
// every location and upserts and links each one to the run.
package collector

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/jobrun"
	"github.com/sells-group/places-cli/internal/lookup"
	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/store"
	"github.com/sells-group/places-cli/internal/task"
	"github.com/sells-group/places-cli/internal/upsert"
	"github.com/sells-group/places-cli/pkg/geocode"
)

// ErrScope marks a request whose scope cannot be resolved: unknown state or
// tier, or a manual city that fails to geocode.
var ErrScope = eris.New("collector: scope")

// ScopeError carries the human-readable reason a scope was rejected.
// errors.Is(err, ErrScope) holds for every ScopeError.
type ScopeError struct {
	Reason string
	Err    error
}

func (e *ScopeError) Error() string { return e.Reason }

func (e *ScopeError) Unwrap() error { return e.Err }

// Is matches ErrScope.
func (e *ScopeError) Is(target error) bool { return target == ErrScope }

func scopeErr(cause error, format string, args ...any) error {
	return &ScopeError{Reason: fmt.Sprintf(format, args...), Err: cause}
}

// Places streams enriched places for one location. *lookup.Client satisfies it.
type Places interface {
	Places(ctx context.Context, q lookup.Query) iter.Seq[model.PlaceRecord]
	Stats() lookup.Stats
}

// Summary totals one run.
type Summary struct {
	RunID     string `json:"run_id"`
	Locations int    `json:"locations"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	Linked    int    `json:"linked"`
}

// Collector drives lookups and upserts for a request.
type Collector struct {
	cat    *catalog.Catalog
	places Places
	geo    geocode.Client
	opts   []upsert.Option
}

// New creates a Collector. geo may be nil, in which case manual-tier
// requests fail with ErrScope.
func New(cat *catalog.Catalog, places Places, geo geocode.Client, opts ...upsert.Option) *Collector {
	return &Collector{cat: cat, places: places, geo: geo, opts: opts}
}

// Work wraps Run as a task body.
func (c *Collector) Work(req Request) task.WorkFunc {
	return func(ctx context.Context, sess store.Store, log *task.StatusLog) (any, error) {
		return c.Run(ctx, sess, req, log)
	}
}

// Run records a job run for req.UserID and visits every location in scope.
// A scope error ends the run before any company is written. Individual
// upsert and link failures are counted and skipped.
func (c *Collector) Run(ctx context.Context, sess store.Store, req Request, log *task.StatusLog) (Summary, error) {
	req, err := req.Normalize()
	if err != nil {
		return Summary{}, err
	}

	tracker := jobrun.New(sess)
	run, err := tracker.Begin(ctx, req.UserID, req.Params())
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{RunID: run.ID}
	defer func() {
		if err := tracker.End(context.WithoutCancel(ctx), run); err != nil {
			zap.L().Warn("collector: end run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()

	locations, err := c.resolve(ctx, req)
	if err != nil {
		log.Printf("Run halted: %s", err)
		return sum, err
	}
	if len(locations) == 0 {
		log.Printf("No cities matched state=%s tier=%s city=%q", req.State, req.Tier, req.City)
		return sum, nil
	}

	engine := upsert.New(sess, c.opts...)
	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "collector: cancelled")
		}
		c.visit(ctx, engine, tracker, run, req, loc, log, &sum)
	}

	log.Printf("Collected %d locations: %d new, %d updated, %d unchanged, %d failed, %d linked",
		sum.Locations, sum.Inserted, sum.Updated, sum.Unchanged, sum.Failed, sum.Linked)
	return sum, nil
}

func (c *Collector) visit(ctx context.Context, engine *upsert.Engine, tracker *jobrun.Tracker, run *model.JobRun,
	req Request, loc catalog.Location, log *task.StatusLog, sum *Summary) {
	l := zap.L().With(zap.String("run_id", run.ID), zap.String("city", loc.City.Name), zap.String("state", loc.State))
	log.Printf("Collecting for %s, %s (%s)", loc.City.Name, loc.State, loc.Tier)
	sum.Locations++

	before := c.places.Stats()
	var inserted, updated, unchanged, failed int

	q := lookup.Query{
		Keyword: req.Keyword,
		Center:  lookup.Point{Lat: loc.City.Lat, Lng: loc.City.Lng},
		Tier:    loc.Tier,
		State:   loc.State,
	}
	for rec := range c.places.Places(ctx, q) {
		out, err := engine.Apply(ctx, rec)
		if err != nil {
			failed++
			l.Warn("collector: upsert failed", zap.String("place_id", rec.PlaceID), zap.Error(err))
			continue
		}
		switch out.Action {
		case upsert.ActionInserted:
			inserted++
		case upsert.ActionUpdated:
			updated++
		default:
			unchanged++
		}

		linked, err := tracker.Link(ctx, run, rec.PlaceID)
		if err != nil {
			l.Warn("collector: link failed", zap.String("place_id", rec.PlaceID), zap.Error(err))
			continue
		}
		if linked {
			sum.Linked++
		}
	}

	st := c.places.Stats().Sub(before)
	sum.Inserted += inserted
	sum.Updated += updated
	sum.Unchanged += unchanged
	sum.Failed += failed
	log.Printf("  %d new, %d updated, %d unchanged, %d failed (%d pages, %d skipped)",
		inserted, updated, unchanged, failed, st.Pages, st.Skipped)
}

// resolve turns the request into locations. Scope failures wrap ErrScope.
func (c *Collector) resolve(ctx context.Context, req Request) ([]catalog.Location, error) {
	if req.Tier == catalog.TierManual {
		return c.geocodeCity(ctx, req)
	}

	locs, err := c.cat.Expand(catalog.Scope{State: req.State, Tier: req.Tier, City: req.City})
	switch {
	case errors.Is(err, catalog.ErrUnknownState):
		return nil, scopeErr(err, "State '%s' not found in catalog", req.State)
	case err != nil:
		return nil, scopeErr(err, "cannot expand tier %q", req.Tier)
	}
	return locs, nil
}

func (c *Collector) geocodeCity(ctx context.Context, req Request) ([]catalog.Location, error) {
	query := fmt.Sprintf("%s, %s", req.City, req.State)
	if c.geo == nil {
		return nil, scopeErr(nil, "Could not geocode '%s': geocoding is not configured", query)
	}
	res, err := c.geo.Geocode(ctx, query)
	if err != nil {
		return nil, scopeErr(err, "Could not geocode '%s': %v", query, err)
	}
	if !res.Matched {
		return nil, scopeErr(nil, "Could not geocode '%s': no match", query)
	}
	return []catalog.Location{{
		State: req.State,
		Tier:  catalog.TierManual,
		City:  catalog.City{Name: req.City, Lat: res.Latitude, Lng: res.Longitude},
	}}, nil
}
