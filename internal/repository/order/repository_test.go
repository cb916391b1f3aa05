package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/foodpass/internal/database/dbtest"
	"github.com/Additional-Code/foodpass/internal/entity"
)

func newOrder(seed *dbtest.Fixture, number int) *entity.Order {
	return &entity.Order{
		EventID:           seed.Event.ID,
		VendorID:          seed.Vendor.ID,
		TicketID:          seed.Regular.ID,
		VendorOrderNumber: number,
		Status:            entity.StatusNew,
		CreatedAt:         time.Now().UTC(),
		Items: []*entity.OrderItem{
			{MenuItemID: seed.Burger.ID, Qty: 2},
			{MenuItemID: seed.Fries.ID, Qty: 1},
		},
	}
}

func TestCreateAndLoadGraph(t *testing.T) {
	ctx := context.Background()
	conns, db := dbtest.Connections(t)
	seed := dbtest.Seed(t, db, 0)
	repo := NewRepository(conns)

	highest, err := repo.MaxVendorNumber(ctx, db, seed.Vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, highest)

	order := newOrder(seed, 1)
	require.NoError(t, repo.Create(ctx, db, order))

	got, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "2x Burger, 1x Fries", got.ItemSummary())
	require.NotNil(t, got.Vendor)
	assert.Equal(t, "Burger Hut", got.Vendor.Name)
	require.NotNil(t, got.Ticket)
	assert.Equal(t, "Rex", got.Ticket.HolderName)

	highest, err = repo.MaxVendorNumber(ctx, db, seed.Vendor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, highest)
}

func TestCreateDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	conns, db := dbtest.Connections(t)
	seed := dbtest.Seed(t, db, 0)
	repo := NewRepository(conns)

	require.NoError(t, repo.Create(ctx, db, newOrder(seed, 1)))
	assert.ErrorIs(t, repo.Create(ctx, db, newOrder(seed, 1)), ErrDuplicateNumber)
}

func TestTransitionIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	conns, db := dbtest.Connections(t)
	seed := dbtest.Seed(t, db, 0)
	repo := NewRepository(conns)

	order := newOrder(seed, 1)
	require.NoError(t, repo.Create(ctx, db, order))

	open, err := repo.HasOpen(ctx, seed.Regular.ID, seed.Vendor.ID)
	require.NoError(t, err)
	assert.True(t, open)

	changed, err := repo.Transition(ctx, db, order.ID, []entity.OrderStatus{entity.StatusPreparing}, entity.StatusReady)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = repo.Transition(ctx, db, order.ID, []entity.OrderStatus{entity.StatusNew}, entity.StatusReady)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Complete(ctx, db, order.ID, "1234")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Complete(ctx, db, order.ID, "1234")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.Reload(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	assert.True(t, got.ConfirmedByGuest)
	assert.Equal(t, "1234", got.PinLast4)

	open, err = repo.HasOpen(ctx, seed.Regular.ID, seed.Vendor.ID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestListFiltersAndOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	conns, db := dbtest.Connections(t)
	seed := dbtest.Seed(t, db, 0)
	repo := NewRepository(conns)

	first := newOrder(seed, 1)
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, db, first))
	second := newOrder(seed, 2)
	require.NoError(t, repo.Create(ctx, db, second))

	orders, err := repo.List(ctx, Filter{EventID: seed.Event.ID, TicketID: seed.Regular.ID})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Len(t, orders[0].Items, 2)

	orders, err = repo.List(ctx, Filter{EventID: seed.Event.ID, Statuses: []entity.OrderStatus{entity.StatusReady}})
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
