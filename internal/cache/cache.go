package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cache is the key-value port the services depend on.
// Values are opaque bytes; typed access goes through GetJSON/SetJSON.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var ErrCacheMiss = errors.New("cache miss")

func CartKey(userID uuid.UUID) string {
	return fmt.Sprintf("cart:user:%s", userID)
}

func ProductKey(productID uuid.UUID) string {
	return fmt.Sprintf("product:%s", productID)
}

func UserKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s", userID)
}
