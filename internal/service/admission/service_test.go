package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/repository/ledger"
	"github.com/Additional-Code/foodpass/internal/service/servicetest"
)

func newService(env *servicetest.Env) *Service {
	return NewService(Params{Orders: env.Orders, Ledger: env.Ledger, Policies: env.Policies})
}

func TestTierLimit(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t, 3)
	svc := newService(env)
	seed := env.Seed
	key := ledger.Key{EventID: seed.Event.ID, TicketID: seed.Regular.ID, VendorID: seed.Vendor.ID}

	decision, err := svc.CanAdmit(ctx, seed.Event, seed.Regular, seed.Vendor, 3)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Remaining: 0}, decision)

	_, err = env.Ledger.Increment(ctx, nil, key, 2)
	require.NoError(t, err)

	decision, err = svc.CanAdmit(ctx, seed.Event, seed.Regular, seed.Vendor, 2)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "Only 1 more item(s) allowed for this vendor.", decision.Reason)
	assert.Equal(t, 1, decision.Remaining)

	_, err = env.Ledger.Increment(ctx, nil, key, 1)
	require.NoError(t, err)

	decision, err = svc.CanAdmit(ctx, seed.Event, seed.Regular, seed.Vendor, 1)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: false, Reason: ReasonLimitReached, Remaining: 0}, decision)
}

func TestOverConsumedNeverReportsNegativeRemaining(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t, 1)
	svc := newService(env)
	seed := env.Seed

	_, err := env.Ledger.Increment(ctx, nil, ledger.Key{EventID: seed.Event.ID, TicketID: seed.Regular.ID, VendorID: seed.Vendor.ID}, 5)
	require.NoError(t, err)

	decision, err := svc.CanAdmit(ctx, seed.Event, seed.Regular, seed.Vendor, 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
}

func TestUnlimitedTierIsAllowed(t *testing.T) {
	env := servicetest.New(t, 1)
	svc := newService(env)
	seed := env.Seed

	decision, err := svc.CanAdmit(context.Background(), seed.Event, seed.VIP, seed.Vendor, 100)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Remaining: -1}, decision)
}

func TestOpenOrderBlocksRegardlessOfTier(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t, 0)
	svc := newService(env)
	seed := env.Seed

	order := &entity.Order{
		EventID: seed.Event.ID, VendorID: seed.Vendor.ID, TicketID: seed.VIP.ID,
		VendorOrderNumber: 1, Status: entity.StatusNew, CreatedAt: time.Now().UTC(),
		Items: []*entity.OrderItem{{MenuItemID: seed.Burger.ID, Qty: 1}},
	}
	require.NoError(t, env.Orders.Create(ctx, env.DB, order))

	decision, err := svc.CanAdmit(ctx, seed.Event, seed.VIP, seed.Vendor, 1)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: false, Reason: ReasonOpenOrder, Remaining: -1}, decision)

	relaxed := *seed.Event
	relaxed.BlockAddWhenOpenOrder = false
	decision, err = svc.CanAdmit(ctx, &relaxed, seed.VIP, seed.Vendor, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	_, err = env.Orders.Transition(ctx, env.DB, order.ID, []entity.OrderStatus{entity.StatusNew}, entity.StatusCancelled)
	require.NoError(t, err)
	decision, err = svc.CanAdmit(ctx, seed.Event, seed.VIP, seed.Vendor, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
