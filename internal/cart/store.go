package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/Additional-Code/foodpass/internal/cache"
	"github.com/Additional-Code/foodpass/internal/config"
)

// sessionTTL bounds how long an idle cart survives.
const sessionTTL = 6 * time.Hour

// Module provides the cart store to Fx.
var Module = fx.Provide(NewStore)

// Store keeps carts in the shared cache keyed by event and device.
type Store struct {
	cache cache.Store
	ttl   time.Duration
}

// NewStore wires a cart store. Carts outlive the default cache TTL.
func NewStore(store cache.Store, cfg config.Config) *Store {
	ttl := sessionTTL
	if cfg.Cache.DefaultTTL > ttl {
		ttl = cfg.Cache.DefaultTTL
	}
	return &Store{cache: store, ttl: ttl}
}

func (s *Store) key(eventCode, device string) string {
	return fmt.Sprintf("cart:%s:%s", eventCode, device)
}

// Load returns the stored cart, or an empty one.
func (s *Store) Load(ctx context.Context, eventCode, device string) (*Cart, error) {
	c := New()
	err := cache.GetJSON(ctx, s.cache, s.key(eventCode, device), c)
	if errors.Is(err, cache.ErrCacheMiss) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	if c.Lines == nil {
		c.Lines = make(map[int64]map[int64]int)
	}
	return c, nil
}

// Save stores c, or clears the entry when c is empty.
func (s *Store) Save(ctx context.Context, eventCode, device string, c *Cart) error {
	if c == nil || c.Empty() {
		return s.Clear(ctx, eventCode, device)
	}
	return cache.SetJSON(ctx, s.cache, s.key(eventCode, device), c, s.ttl)
}

// Clear removes the stored cart.
func (s *Store) Clear(ctx context.Context, eventCode, device string) error {
	return s.cache.Delete(ctx, s.key(eventCode, device))
}
