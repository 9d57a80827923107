package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/app"
	"github.com/sells-group/places-cli/internal/cache"
	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/collector"
	"github.com/sells-group/places-cli/internal/lookup"
	"github.com/sells-group/places-cli/internal/resilience"
	"github.com/sells-group/places-cli/internal/sheets"
	"github.com/sells-group/places-cli/internal/store"
	"github.com/sells-group/places-cli/internal/task"
	"github.com/sells-group/places-cli/internal/users"
	"github.com/sells-group/places-cli/pkg/geocode"
	"github.com/sells-group/places-cli/pkg/google"
)

// appEnv holds the initialized services for the collect/export/users/serve
// commands.
type appEnv struct {
	App     *app.App
	Catalog *catalog.Catalog
	Runner  *task.Runner

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	if e.Runner != nil {
		e.Runner.Shutdown()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initApp validates config for mode, migrates the store and builds every
// service. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	env := &appEnv{}

	open, closeStore, err := initOpener(ctx)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, closeStore)

	if err := migrateOnce(ctx, open); err != nil {
		env.Close()
		return nil, err
	}

	backend, err := initSheets(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	var cat *catalog.Catalog
	if mode != "users" {
		cat, err = catalog.Load(cfg.Catalog.Path)
		if err != nil {
			env.Close()
			return nil, err
		}
		zap.L().Info("catalog loaded", zap.String("path", cfg.Catalog.Path), zap.Int("states", len(cat.States())))
	}
	env.Catalog = cat

	var c *collector.Collector
	if mode == "collect" || mode == "serve" {
		rc := initCache(ctx)
		if rc != nil {
			env.closers = append(env.closers, func() { _ = rc.Close() })
		}
		c = initCollector(cat, rc)
		env.Runner = task.NewRunner(open, cfg.Tasks.LogDir, cfg.Tasks.Workers)
	}

	env.App = app.New(open, env.Runner, c,
		sheets.NewExporter(backend, cat),
		users.New(backend, cfg.Sheets.TitlePrefix),
		cat,
	)
	return env, nil
}

// initOpener returns a per-operation store opener. SQLite sessions open
// their own database handle; postgres sessions share one pool, so closing a
// session is a no-op and the returned close func releases the pool.
func initOpener(ctx context.Context) (store.Opener, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "places.db"
		}
		return func(context.Context) (store.Store, error) { return store.NewSQLite(dsn) }, func() {}, nil
	case "postgres":
		ps, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		open := func(context.Context) (store.Store, error) { return sharedSession{ps}, nil }
		return open, func() { _ = ps.Close() }, nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// sharedSession hands out the pooled store without closing it.
type sharedSession struct{ store.Store }

func (sharedSession) Close() error { return nil }

// initStore opens a single store session for one-shot commands.
func initStore(ctx context.Context) (store.Store, error) {
	open, closeStore, err := initOpener(ctx)
	if err != nil {
		return nil, err
	}
	st, err := open(ctx)
	if err != nil {
		closeStore()
		return nil, err
	}
	return closingStore{Store: st, release: closeStore}, nil
}

type closingStore struct {
	store.Store
	release func()
}

func (c closingStore) Close() error {
	err := c.Store.Close()
	c.release()
	return err
}

// unwrapStore returns the concrete store behind session wrappers.
func unwrapStore(st store.Store) store.Store {
	for {
		switch s := st.(type) {
		case closingStore:
			st = s.Store
		case sharedSession:
			st = s.Store
		default:
			return st
		}
	}
}

func migrateOnce(ctx context.Context, open store.Opener) error {
	st, err := open(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return eris.Wrap(st.Migrate(ctx), "migrate store")
}

func initSheets(ctx context.Context) (sheets.Backend, error) {
	switch cfg.Sheets.Backend {
	case "xlsx":
		return sheets.NewXLSXBackend(cfg.Sheets.XLSXDir)
	case "google":
		return sheets.DialGoogle(ctx, cfg.Sheets.CredentialsFile)
	default:
		return nil, eris.Errorf("unsupported sheets backend: %s", cfg.Sheets.Backend)
	}
}

// initCache connects to Redis when configured. A failed connection only
// disables caching.
func initCache(ctx context.Context) *cache.Cache {
	if cfg.Cache.RedisAddr == "" {
		zap.L().Debug("PLACES_CACHE_REDIS_ADDR not set, lookup cache disabled")
		return nil
	}
	rc, err := cache.New(ctx, cache.Config{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
		Prefix:   "places:",
	})
	if err != nil {
		zap.L().Warn("redis unavailable, lookup cache disabled", zap.Error(err))
		return nil
	}
	zap.L().Info("lookup cache enabled", zap.String("addr", cfg.Cache.RedisAddr))
	return rc
}

func initCollector(cat *catalog.Catalog, rc *cache.Cache) *collector.Collector {
	timeout := time.Duration(cfg.Google.TimeoutSecs) * time.Second
	api := google.NewClient(cfg.Google.APIKey,
		google.WithBaseURL(cfg.Google.PlacesBaseURL),
		google.WithTimeout(timeout),
	)

	var lookupOpts []lookup.Option
	geoOpts := []geocode.Option{
		geocode.WithBaseURL(cfg.Google.GeocodeURL),
		geocode.WithRegion(cfg.Google.RegionCode),
	}
	if n := cfg.Retry.BreakerThreshold; n > 0 {
		cooldown := time.Duration(cfg.Retry.BreakerCooldownSec) * time.Second
		lookupOpts = append(lookupOpts, lookup.WithBreaker(resilience.NewBreaker("google_places", n, cooldown)))
	}
	if rc != nil {
		lookupOpts = append(lookupOpts, lookup.WithCache(rc, cfg.Cache.TTL()))
		geoOpts = append(geoOpts, geocode.WithCache(rc, cfg.Cache.TTL()))
	}

	places := lookup.New(api, lookup.Config{
		Radii: lookup.Radii{
			Large:  cfg.Search.RadiusLarge,
			Medium: cfg.Search.RadiusMedium,
			Small:  cfg.Search.RadiusSmall,
		},
		PageDelay:  cfg.Search.PageDelay,
		MaxPages:   cfg.Search.MaxPages,
		DetailsRPS: cfg.Google.DetailsRateLimit,
		RegionCode: cfg.Google.RegionCode,
		Retry:      resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
	}, lookupOpts...)

	return collector.New(cat, places, geocode.NewClient(cfg.Google.APIKey, geoOpts...))
}
