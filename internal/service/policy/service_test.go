package policy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/cache"
	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/database/dbtest"
	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/repository/catalog"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

func TestEventIsCached(t *testing.T) {
	ctx := context.Background()
	conns, db := dbtest.Connections(t)
	seed := dbtest.Seed(t, db, 1)

	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(config.Redis{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewService(Params{
		Catalog: catalog.NewRepository(conns),
		Cache:   cache.NewRedisStore(client, time.Minute),
		Logger:  zap.NewNop(),
	})

	event, err := svc.Event(ctx, "FEST")
	require.NoError(t, err)
	assert.Equal(t, seed.Event.ID, event.ID)
	assert.True(t, mr.Exists("events:FEST"))

	// served from cache even after the row changes
	_, err = db.NewUpdate().Model((*entity.Event)(nil)).Set("name = ?", "Renamed").Where("id = ?", seed.Event.ID).Exec(ctx)
	require.NoError(t, err)
	event, err = svc.Event(ctx, "FEST")
	require.NoError(t, err)
	assert.Equal(t, "Food Fest", event.Name)

	_, err = svc.Event(ctx, "NOPE")
	assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))
}

func TestTierPolicyDefaultsToUnlimited(t *testing.T) {
	ctx := context.Background()
	conns, db := dbtest.Connections(t)
	seed := dbtest.Seed(t, db, 2)

	svc := NewService(Params{
		Catalog: catalog.NewRepository(conns),
		Cache:   nil,
		Logger:  zap.NewNop(),
	})

	reg, err := svc.TierPolicy(ctx, seed.Event.ID, entity.TierRegular)
	require.NoError(t, err)
	assert.True(t, reg.HasLimit())
	assert.Equal(t, 2, reg.Limit())

	missing, err := svc.TierPolicy(ctx, seed.Event.ID, entity.TierCode("STAFF"))
	require.NoError(t, err)
	assert.False(t, missing.HasLimit())

	count, err := db.NewSelect().Model((*entity.TierPolicy)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
