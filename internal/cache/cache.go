package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache defines the cache interface. The archive caches rendered frames and
// thumbnails, which are expensive to produce (full pixel-data decode) but
// immutable once an instance is stored.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = fmt.Errorf("cache miss")

// RenderKey generates the cache key for a rendered representation of one
// frame of a stored instance.
func RenderKey(sopInstanceUID string, frame int, mediaType string, thumbnail bool) string {
	kind := "rendered"
	if thumbnail {
		kind = "thumbnail"
	}
	return fmt.Sprintf("render:%s:%d:%s:%s", sopInstanceUID, frame, mediaType, kind)
}
