package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/Additional-Code/foodpass/internal/entity"
)

// Fixture is a small event with one vendor, a menu and two tickets.
type Fixture struct {
	Event   *entity.Event
	Vendor  *entity.Vendor
	Burger  *entity.MenuItem
	Fries   *entity.MenuItem
	VIP     *entity.Ticket
	Regular *entity.Ticket
}

// Seed inserts the default fixture. REG is capped at regLimit items per vendor
// when regLimit > 0.
func Seed(t testing.TB, db bun.IDB, regLimit int) *Fixture {
	t.Helper()

	event := &entity.Event{
		Code:                     "FEST",
		Name:                     "Food Fest",
		EnableGuestPickupConfirm: true,
		EnableMultiVendorCart:    true,
		BlockAddWhenOpenOrder:    true,
	}
	Insert(t, db, event)

	vendor := AddVendor(t, db, event.ID, "Burger Hut")
	burger := AddMenuItem(t, db, vendor.ID, "Burger", true)
	fries := AddMenuItem(t, db, vendor.ID, "Fries", true)

	vip := &entity.Ticket{EventID: event.ID, QRCode: "QR-VIP-1", TierCode: entity.TierVIP, HolderName: "Vera", Active: true}
	reg := &entity.Ticket{EventID: event.ID, QRCode: "QR-REG-1", TierCode: entity.TierRegular, HolderName: "Rex", Active: true}
	Insert(t, db, vip)
	Insert(t, db, reg)

	if regLimit > 0 {
		limit := regLimit
		Insert(t, db, &entity.TierPolicy{EventID: event.ID, TierCode: entity.TierRegular, MaxItemsPerVendor: &limit})
	}
	Insert(t, db, &entity.TierPolicy{EventID: event.ID, TierCode: entity.TierVIP, Unlimited: true})

	return &Fixture{Event: event, Vendor: vendor, Burger: burger, Fries: fries, VIP: vip, Regular: reg}
}

// AddVendor inserts an active, available vendor.
func AddVendor(t testing.TB, db bun.IDB, eventID int64, name string) *entity.Vendor {
	t.Helper()
	vendor := &entity.Vendor{EventID: eventID, Name: name, Active: true, Status: entity.VendorAvailable}
	Insert(t, db, vendor)
	return vendor
}

// AddMenuItem inserts a zero-priced menu item.
func AddMenuItem(t testing.TB, db bun.IDB, vendorID int64, name string, available bool) *entity.MenuItem {
	t.Helper()
	item := &entity.MenuItem{VendorID: vendorID, Name: name, Available: available}
	Insert(t, db, item)
	return item
}

// Insert persists model and fails the test on error.
func Insert(t testing.TB, db bun.IDB, model any) {
	t.Helper()
	_, err := db.NewInsert().Model(model).Exec(context.Background())
	require.NoError(t, err)
}
