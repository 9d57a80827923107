// Package geocode resolves free-text city names to coordinates through the
// Google Geocoding API.
package geocode

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client geocodes free-text addresses.
type Client interface {
	// Geocode resolves query. An address Google cannot place comes back with
	// Matched=false and a nil error.
	Geocode(ctx context.Context, query string) (*Result, error)
}

// Result holds the geocoding output for a query.
type Result struct {
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"lng"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	Quality          string  `json:"quality,omitempty"` // "rooftop", "range", "centroid", "approximate"
	Matched          bool    `json:"matched"`
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL overrides the Geocoding API endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		g.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCache stores results, matched or not, for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(g *geocoder) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

// WithRegion biases results toward a ccTLD region code such as "us".
func WithRegion(region string) Option {
	return func(g *geocoder) {
		g.region = region
	}
}

type geocoder struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	region     string
	limiter    *rate.Limiter
	cache      Cache
	cacheTTL   time.Duration
}

// NewClient creates a geocoding Client for the given Google API key.
func NewClient(apiKey string, opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    googleGeocodeURL,
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Geocode checks the cache, then calls Google. Cache failures are logged and
// otherwise ignored.
func (g *geocoder) Geocode(ctx context.Context, query string) (*Result, error) {
	key := cacheKey(query)
	if g.cache != nil {
		var cached Result
		hit, err := g.cache.Get(ctx, key, &cached)
		if err != nil {
			zap.L().Warn("geocode: cache get failed", zap.Error(err))
		} else if hit {
			zap.L().Debug("geocode cache hit", zap.String("query", query), zap.Bool("matched", cached.Matched))
			return &cached, nil
		}
	}

	result, err := g.geocodeGoogle(ctx, query)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, key, result, g.cacheTTL); err != nil {
			zap.L().Warn("geocode: cache set failed", zap.Error(err))
		}
	}
	return result, nil
}
