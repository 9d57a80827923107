package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Cache is the key/value store the geocoder reads through. internal/cache
// satisfies it with Redis.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// cacheKey normalizes query so "Austin, TX" and " austin,  tx" share an entry.
func cacheKey(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("geocode:%x", h)
}
