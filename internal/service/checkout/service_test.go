package checkout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/foodpass/internal/access"
	"github.com/Additional-Code/foodpass/internal/cart"
	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/database/dbtest"
	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/lock"
	"github.com/Additional-Code/foodpass/internal/service/admission"
	ordersvc "github.com/Additional-Code/foodpass/internal/service/order"
	"github.com/Additional-Code/foodpass/internal/service/servicetest"
	"github.com/Additional-Code/foodpass/internal/service/ticket"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

type harness struct {
	env       *servicetest.Env
	svc       *Service
	orders    *ordersvc.Service
	admission *admission.Service
}

func newHarness(t *testing.T, regLimit int, locker lock.Locker) *harness {
	env := servicetest.New(t, regLimit)
	if locker == nil {
		locker = lock.NewLocal()
	}
	tickets := ticket.NewService(ticket.Params{Repository: env.Tickets, Policies: env.Policies, Audit: env.Audit, Logger: env.Logger})
	adm := admission.NewService(admission.Params{Orders: env.Orders, Ledger: env.Ledger, Policies: env.Policies})
	orders := ordersvc.NewService(ordersvc.Params{
		Repository: env.Orders,
		Ledger:     env.Ledger,
		Policies:   env.Policies,
		Publisher:  env.Gateway,
		Audit:      env.Audit,
		Logger:     env.Logger,
	})
	cfg := config.Config{Checkout: config.Checkout{NumberingRetries: 3, VendorLockTTL: 5 * time.Second, LockWait: time.Second}}
	svc := NewService(Params{
		Tickets:   tickets,
		Admission: adm,
		Policies:  env.Policies,
		Orders:    orders,
		OrderRepo: env.Orders,
		Catalog:   env.Catalog,
		Locker:    locker,
		Audit:     env.Audit,
		Config:    cfg,
		Logger:    env.Logger,
	})
	return &harness{env: env, svc: svc, orders: orders, admission: adm}
}

func qr(s string) *string { return &s }

func group(vendorID int64, lines ...cart.Line) cart.Group {
	return cart.Group{VendorID: vendorID, Lines: lines}
}

func TestCheckoutSplitsAcceptedAndRejectedGroups(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, nil)
	seed := h.env.Seed

	tacos := dbtest.AddVendor(t, h.env.DB, seed.Event.ID, "Taco Stand")
	dbtest.AddMenuItem(t, h.env.DB, tacos.ID, "Taco", true)

	res, err := h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		QRCode:     qr("QR-VIP-1"),
		DeviceHash: "dev-1",
		Groups: []cart.Group{
			group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Burger.ID, Qty: 2}, cart.Line{MenuItemID: seed.Fries.ID, Qty: 1}),
			group(tacos.ID, cart.Line{MenuItemID: seed.Burger.ID, Qty: 1}),
		},
		Username: "guest",
	})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, seed.VIP.ID, res.Ticket.ID)

	order := res.Orders[0]
	assert.Equal(t, seed.Vendor.ID, order.VendorID)
	assert.Equal(t, entity.StatusNew, order.Status)
	assert.Equal(t, 1, order.VendorOrderNumber)
	assert.Equal(t, "2x Burger, 1x Fries", order.ItemSummary())
	assert.Equal(t, map[int64]string{tacos.ID: ReasonItemNotOwned}, res.Rejections)
	assert.Equal(t, []int64{seed.Vendor.ID}, res.Accepted())
}

func TestCheckoutGroupRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, nil)
	seed := h.env.Seed

	other := &entity.Event{Code: "OTHER"}
	dbtest.Insert(t, h.env.DB, other)
	foreign := dbtest.AddVendor(t, h.env.DB, other.ID, "Elsewhere")

	closed := dbtest.AddVendor(t, h.env.DB, seed.Event.ID, "Closed Cafe")
	_, err := h.env.DB.NewUpdate().Model((*entity.Vendor)(nil)).Set("status = ?", entity.VendorClosed).Where("id = ?", closed.ID).Exec(ctx)
	require.NoError(t, err)

	soldOut := dbtest.AddVendor(t, h.env.DB, seed.Event.ID, "Sold Out")
	gone := dbtest.AddMenuItem(t, h.env.DB, soldOut.ID, "Soup", false)

	capped := dbtest.AddVendor(t, h.env.DB, seed.Event.ID, "Capped")
	two := 2
	cake := &entity.MenuItem{VendorID: capped.ID, Name: "Cake", Available: true, MaxPerOrder: &two}
	dbtest.Insert(t, h.env.DB, cake)

	qtyVendor := dbtest.AddVendor(t, h.env.DB, seed.Event.ID, "Qty")
	missingVendor := dbtest.AddVendor(t, h.env.DB, seed.Event.ID, "Missing Items")

	res, err := h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		DeviceHash: "walk-1",
		Groups: []cart.Group{
			group(9999, cart.Line{MenuItemID: 1, Qty: 1}),
			group(foreign.ID, cart.Line{MenuItemID: 1, Qty: 1}),
			group(closed.ID, cart.Line{MenuItemID: 1, Qty: 1}),
			group(soldOut.ID, cart.Line{MenuItemID: gone.ID, Qty: 1}),
			group(capped.ID, cart.Line{MenuItemID: cake.ID, Qty: 3}),
			group(qtyVendor.ID, cart.Line{MenuItemID: 1, Qty: 0}),
			group(missingVendor.ID, cart.Line{MenuItemID: 424242, Qty: 1}),
		},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Orders)
	assert.Equal(t, map[int64]string{
		9999:             ReasonVendorNotFound,
		foreign.ID:       ReasonVendorNotInEvent,
		closed.ID:        ReasonVendorNotAccepting,
		soldOut.ID:       "Soup is unavailable",
		capped.ID:        "At most 2 x Cake per order",
		qtyVendor.ID:     ReasonInvalidQty,
		missingVendor.ID: ReasonItemNotFound,
	}, res.Rejections)
}

func TestCheckoutWalkIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, nil)
	seed := h.env.Seed

	req := Request{
		EventCode:  "FEST",
		DeviceHash: "abc",
		Groups:     []cart.Group{group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Fries.ID, Qty: 1})},
	}
	res, err := h.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "WALKIN-FEST-ABC", res.Ticket.QRCode)
	require.Len(t, res.Orders, 1)

	recent, err := h.svc.RecentOrders(ctx, "FEST", res.Ticket)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, res.Orders[0].ID, recent[0].ID)

	// same device, same ticket; the open order now blocks the vendor
	again, err := h.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, res.Ticket.ID, again.Ticket.ID)
	assert.Equal(t, admission.ReasonOpenOrder, again.Rejections[seed.Vendor.ID])
}

func TestTicketFailureAbortsCheckout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, nil)
	seed := h.env.Seed

	_, err := h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		QRCode:     qr("NOPE"),
		DeviceHash: "d",
		Groups:     []cart.Group{group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Fries.ID, Qty: 1})},
	})
	assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))

	count, err := h.env.DB.NewSelect().Model((*entity.Order)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSingleVendorEventRejectsMultiVendorCartBeforeBinding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, nil)
	seed := h.env.Seed

	_, err := h.env.DB.NewUpdate().Model((*entity.Event)(nil)).Set("enable_multi_vendor_cart = ?", false).Where("id = ?", seed.Event.ID).Exec(ctx)
	require.NoError(t, err)
	second := dbtest.AddVendor(t, h.env.DB, seed.Event.ID, "Second")
	water := dbtest.AddMenuItem(t, h.env.DB, second.ID, "Water", true)

	_, err = h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		QRCode:     qr("QR-REG-1"),
		DeviceHash: "dev-x",
		Groups: []cart.Group{
			group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Fries.ID, Qty: 1}),
			group(second.ID, cart.Line{MenuItemID: water.ID, Qty: 1}),
		},
	})
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))
	assert.EqualError(t, err, ReasonSingleVendorOnly)

	tkt, err := h.env.Tickets.GetByID(ctx, seed.Regular.ID)
	require.NoError(t, err)
	assert.False(t, tkt.IsBound())
}

func TestConcurrentCheckoutsGetDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, nil)
	seed := h.env.Seed

	const n = 12
	numbers := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.Checkout(ctx, Request{
				EventCode:  "FEST",
				DeviceHash: fmt.Sprintf("device%d", i),
				Groups:     []cart.Group{group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Burger.ID, Qty: 1})},
			})
			if assert.NoError(t, err) && assert.Len(t, res.Orders, 1) {
				numbers <- res.Orders[0].VendorOrderNumber
			}
		}(i)
	}
	wg.Wait()
	close(numbers)

	var got []int
	for number := range numbers {
		got = append(got, number)
	}
	sort.Ints(got)
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
}

func TestTierLimitScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, nil)
	seed := h.env.Seed

	decision, err := h.admission.CanAdmit(ctx, seed.Event, seed.Regular, seed.Vendor, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	res, err := h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		QRCode:     qr("QR-REG-1"),
		DeviceHash: "rex-phone",
		Groups:     []cart.Group{group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Burger.ID, Qty: 1})},
	})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	order := res.Orders[0]

	staff := access.Principal{Username: "usher", Role: access.Usher, VendorID: seed.Vendor.ID}
	_, err = h.orders.MarkStatus(ctx, staff, "FEST", order.ID, entity.StatusPreparing)
	require.NoError(t, err)
	_, err = h.orders.MarkStatus(ctx, staff, "FEST", order.ID, entity.StatusReady)
	require.NoError(t, err)
	_, err = h.orders.MarkCompletedByGuest(ctx, staff, "FEST", order.ID, nil)
	require.NoError(t, err)

	decision, err = h.admission.CanAdmit(ctx, seed.Event, seed.Regular, seed.Vendor, 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, admission.ReasonLimitReached, decision.Reason)

	res, err = h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		QRCode:     qr("QR-REG-1"),
		DeviceHash: "rex-phone",
		Groups:     []cart.Group{group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Burger.ID, Qty: 1})},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Orders)
	assert.Equal(t, admission.ReasonLimitReached, res.Rejections[seed.Vendor.ID])
}

type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, key string, _ time.Duration) (lock.Release, error) {
	return nil, fmt.Errorf("%w: %s", lock.ErrNotAcquired, key)
}

func TestBusyVendorLockBecomesRejection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, busyLocker{})
	seed := h.env.Seed

	res, err := h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		DeviceHash: "busy",
		Groups:     []cart.Group{group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Burger.ID, Qty: 1})},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Orders)
	assert.Equal(t, "Vendor is busy, please retry", res.Rejections[seed.Vendor.ID])
}

func TestNormalizeMergesAndSorts(t *testing.T) {
	groups := normalize([]cart.Group{
		group(5, cart.Line{MenuItemID: 1, Qty: 1}),
		group(2, cart.Line{MenuItemID: 3, Qty: 1}),
		group(5, cart.Line{MenuItemID: 2, Qty: 2}),
	})
	require.Len(t, groups, 2)
	assert.Equal(t, int64(2), groups[0].VendorID)
	assert.Equal(t, 3, groups[1].Qty())
}

func TestEmptyCartIsValidationError(t *testing.T) {
	h := newHarness(t, 0, nil)
	_, err := h.svc.Checkout(context.Background(), Request{EventCode: "FEST", DeviceHash: "d"})
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))
}

func TestAdmitPreview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, nil)
	seed := h.env.Seed

	fresh, err := h.svc.Admit(ctx, AdmitRequest{EventCode: "FEST", DeviceHash: "nobody", VendorID: seed.Vendor.ID, Qty: 5})
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
	assert.Equal(t, -1, fresh.Remaining)

	decision, err := h.svc.Admit(ctx, AdmitRequest{EventCode: "FEST", QRCode: qr("QR-REG-1"), DeviceHash: "d", VendorID: seed.Vendor.ID, Qty: 3})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "Only 2 more item(s) allowed for this vendor.", decision.Reason)

	_, err = h.svc.Admit(ctx, AdmitRequest{EventCode: "FEST", QRCode: qr("QR-REG-1"), DeviceHash: "d", VendorID: 777, Qty: 1})
	assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))

	_, err = h.svc.Admit(ctx, AdmitRequest{EventCode: "FEST", QRCode: qr("QR-REG-1"), DeviceHash: "d", VendorID: seed.Vendor.ID, Qty: 0})
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))

	tkt, err := h.env.Tickets.GetByID(ctx, seed.Regular.ID)
	require.NoError(t, err)
	assert.False(t, tkt.IsBound())
}

func TestAdmitPreviewChecksTicketAccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, nil)
	seed := h.env.Seed

	_, err := h.svc.Admit(ctx, AdmitRequest{EventCode: "FEST", QRCode: qr("QR-REG-1"), VendorID: seed.Vendor.ID, Qty: 1})
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))

	won, err := h.env.Tickets.BindDevice(ctx, seed.Regular.ID, "owner-phone")
	require.NoError(t, err)
	require.True(t, won)

	_, err = h.svc.Admit(ctx, AdmitRequest{EventCode: "FEST", QRCode: qr("QR-REG-1"), DeviceHash: "other-phone", VendorID: seed.Vendor.ID, Qty: 1})
	assert.True(t, errorbank.IsKind(err, errorbank.KindForbidden))
	assert.EqualError(t, err, "Ticket bound to another device")

	decision, err := h.svc.Admit(ctx, AdmitRequest{EventCode: "FEST", QRCode: qr("QR-REG-1"), DeviceHash: "owner-phone", VendorID: seed.Vendor.ID, Qty: 1})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	_, err = h.env.DB.NewUpdate().Model((*entity.Ticket)(nil)).
		Set("active = ?", false).
		Where("id = ?", seed.Regular.ID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = h.svc.Admit(ctx, AdmitRequest{EventCode: "FEST", QRCode: qr("QR-REG-1"), DeviceHash: "owner-phone", VendorID: seed.Vendor.ID, Qty: 1})
	assert.EqualError(t, err, "Ticket inactive")
}

// brokenLocker fails with a backend error for one key and delegates the rest.
type brokenLocker struct {
	lock.Locker
	key string
}

func (b *brokenLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Release, error) {
	if key == b.key {
		return nil, fmt.Errorf("redis: connection refused")
	}
	return b.Locker.Acquire(ctx, key, ttl)
}

func TestFailedGroupKeepsCommittedOrdersInResult(t *testing.T) {
	ctx := context.Background()
	locker := &brokenLocker{Locker: lock.NewLocal()}
	h := newHarness(t, 0, locker)
	seed := h.env.Seed

	tacos := dbtest.AddVendor(t, h.env.DB, seed.Event.ID, "Taco Stand")
	taco := dbtest.AddMenuItem(t, h.env.DB, tacos.ID, "Taco", true)
	require.Greater(t, tacos.ID, seed.Vendor.ID)
	locker.key = fmt.Sprintf("vendor-order-number:%d", tacos.ID)

	res, err := h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		DeviceHash: "partial",
		Groups: []cart.Group{
			group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Burger.ID, Qty: 1}),
			group(tacos.ID, cart.Line{MenuItemID: taco.ID, Qty: 1}),
		},
	})
	require.Error(t, err)
	assert.True(t, errorbank.IsKind(err, errorbank.KindInternal))

	require.NotNil(t, res)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, seed.Vendor.ID, res.Orders[0].VendorID)
	assert.Equal(t, []int64{res.Orders[0].ID}, errorbank.From(err).Details()["createdOrderIds"])
}

func TestFailedFirstGroupReturnsNoResult(t *testing.T) {
	ctx := context.Background()
	locker := &brokenLocker{Locker: lock.NewLocal()}
	h := newHarness(t, 0, locker)
	seed := h.env.Seed
	locker.key = fmt.Sprintf("vendor-order-number:%d", seed.Vendor.ID)

	res, err := h.svc.Checkout(ctx, Request{
		EventCode:  "FEST",
		DeviceHash: "partial",
		Groups:     []cart.Group{group(seed.Vendor.ID, cart.Line{MenuItemID: seed.Burger.ID, Qty: 1})},
	})
	assert.True(t, errorbank.IsKind(err, errorbank.KindInternal))
	assert.Nil(t, res)
}
