package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetJSON loads key and decodes it into dest. ErrCacheMiss is returned untouched.
func GetJSON(ctx context.Context, store Store, key string, dest any) error {
	if store == nil {
		return ErrCacheMiss
	}
	raw, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key. A ttl <= 0 uses the store default.
func SetJSON(ctx context.Context, store Store, key string, v any, ttl time.Duration) error {
	if store == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	return store.Set(ctx, key, raw, ttl)
}
