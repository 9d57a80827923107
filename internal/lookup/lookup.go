// Package lookup turns a keyword and a center point into a lazy stream of
// enriched place records.
package lookup

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/resilience"
	"github.com/sells-group/places-cli/pkg/google"
)

// Radii holds the search radius in meters for each catalog tier.
type Radii struct {
	Large  float64
	Medium float64
	Small  float64
}

// For returns the radius for t. Anything other than medium or small,
// including a manually geocoded city, gets the large radius.
func (r Radii) For(t catalog.Tier) float64 {
	switch t {
	case catalog.TierMedium:
		return r.Medium
	case catalog.TierSmall:
		return r.Small
	default:
		return r.Large
	}
}

// Config tunes pagination and enrichment.
type Config struct {
	Radii      Radii
	PageDelay  time.Duration
	MaxPages   int
	DetailsRPS float64
	RegionCode string
	Retry      resilience.RetryConfig
}

// Cache is the read-through store for place details.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Point is a search center.
type Point struct {
	Lat float64
	Lng float64
}

// Query is one location pass.
type Query struct {
	Keyword string
	Center  Point
	Tier    catalog.Tier
	State   string
}

// Stats are cumulative counters across every pass made by a Client.
type Stats struct {
	Pages      int
	Candidates int
	Details    int
	CacheHits  int
	Skipped    int
}

// Sub returns s minus prev, for per-location reporting.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Pages:      s.Pages - prev.Pages,
		Candidates: s.Candidates - prev.Candidates,
		Details:    s.Details - prev.Details,
		CacheHits:  s.CacheHits - prev.CacheHits,
		Skipped:    s.Skipped - prev.Skipped,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithCache enables the details cache.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithBreaker guards every API call with b. Without it calls are never
// short-circuited.
func WithBreaker(b *resilience.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

// Client runs location passes against the Places API.
type Client struct {
	api      google.Client
	cfg      Config
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	cache    Cache
	cacheTTL time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats Stats
}

// New creates a Client. A MaxPages of zero means 3, the API's ceiling.
func New(api google.Client, cfg Config, opts ...Option) *Client {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	limit := rate.Inf
	if cfg.DetailsRPS > 0 {
		limit = rate.Limit(cfg.DetailsRPS)
	}
	c := &Client{
		api:     api,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleep,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stats returns a snapshot of the counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Client) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// Places streams the enriched places around q.Center. Pages are fetched as
// the consumer pulls; breaking out of the range loop stops all further API
// calls. A failed page ends the pass and a failed details call skips that
// candidate.
func (c *Client) Places(ctx context.Context, q Query) iter.Seq[model.PlaceRecord] {
	return func(yield func(model.PlaceRecord) bool) {
		log := zap.L().With(
			zap.String("keyword", q.Keyword),
			zap.String("state", q.State),
			zap.String("tier", string(q.Tier)),
		)

		req := google.SearchTextRequest{
			TextQuery: q.Keyword,
			LocationBias: &google.LocationBias{Circle: &google.Circle{
				Center: google.LatLng{Latitude: q.Center.Lat, Longitude: q.Center.Lng},
				Radius: c.cfg.Radii.For(q.Tier),
			}},
			RegionCode: c.cfg.RegionCode,
		}
		seen := make(map[string]struct{})

		for page := 1; page <= c.cfg.MaxPages; page++ {
			if page > 1 {
				if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
					return
				}
			}

			resp, err := c.search(ctx, req)
			c.count(func(s *Stats) { s.Pages++ })
			if err != nil {
				log.Warn("lookup: search page failed", zap.Int("page", page), zap.Error(err))
				return
			}

			for _, p := range resp.Places {
				if p.ID == "" {
					continue
				}
				if _, dup := seen[p.ID]; dup {
					continue
				}
				seen[p.ID] = struct{}{}
				c.count(func(s *Stats) { s.Candidates++ })

				d, err := c.details(ctx, p.ID)
				if err != nil {
					c.count(func(s *Stats) { s.Skipped++ })
					log.Warn("lookup: details failed, skipping place", zap.String("place_id", p.ID), zap.Error(err))
					continue
				}
				if !yield(c.record(q, p, d)) {
					return
				}
			}

			if resp.NextPageToken == "" {
				return
			}
			req.PageToken = resp.NextPageToken
		}
	}
}

func (c *Client) search(ctx context.Context, req google.SearchTextRequest) (*google.SearchTextResponse, error) {
	retry := c.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("google", "search_text")
	}
	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*google.SearchTextResponse, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*google.SearchTextResponse, error) {
			return c.api.SearchText(ctx, req)
		})
	})
}

func (c *Client) details(ctx context.Context, placeID string) (*google.PlaceDetails, error) {
	key := "details:" + placeID
	if c.cache != nil {
		var cached google.PlaceDetails
		hit, err := c.cache.Get(ctx, key, &cached)
		if err != nil {
			zap.L().Warn("lookup: cache get failed", zap.String("place_id", placeID), zap.Error(err))
		} else if hit {
			c.count(func(s *Stats) { s.CacheHits++ })
			return &cached, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	c.count(func(s *Stats) { s.Details++ })

	retry := c.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("google", "place_details")
	}
	d, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*google.PlaceDetails, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*google.PlaceDetails, error) {
			return c.api.PlaceDetails(ctx, placeID)
		})
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, d, c.cacheTTL); err != nil {
			zap.L().Warn("lookup: cache set failed", zap.String("place_id", placeID), zap.Error(err))
		}
	}
	return d, nil
}

func (c *Client) record(q Query, p google.Place, d *google.PlaceDetails) model.PlaceRecord {
	name := d.DisplayName.Text
	if name == "" {
		name = p.DisplayName.Text
	}
	addr := d.FormattedAddress
	if addr == "" {
		addr = p.FormattedAddress
	}
	loc := d.Location
	if loc == (google.LatLng{}) {
		loc = p.Location
	}

	return model.PlaceRecord{
		PlaceID: p.ID,
		Name:    optional(name),
		Address: optional(addr),
		Phone:   optional(NormalizePhone(d.InternationalPhoneNumber, c.cfg.RegionCode)),
		Website: optional(d.WebsiteURI),
		Rating:  d.Rating,
		Lat:     loc.Latitude,
		Lng:     loc.Longitude,
		Keyword: q.Keyword,
		State:   q.State,
	}
}

// NormalizePhone formats raw in international notation. Numbers that do not
// parse as valid are returned trimmed but otherwise untouched.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
