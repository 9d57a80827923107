package geocode

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"time"

	"golang.org/x/time/rate"
)

// newTestLimiter creates a rate limiter that effectively does not limit for tests.
func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func newTestGeocoder(srv *httptest.Server, opts ...Option) *geocoder {
	g := NewClient("test-key", append([]Option{WithBaseURL(srv.URL), WithHTTPClient(srv.Client())}, opts...)...).(*geocoder)
	g.limiter = newTestLimiter()
	return g
}

// memCache is an in-memory Cache that round-trips through JSON like Redis does.
type memCache struct {
	data map[string][]byte
	sets int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.sets++
	m.data[key] = raw
	return nil
}
