package entity

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// VendorStatus is the availability a vendor advertises to guests.
type VendorStatus string

const (
	VendorAvailable VendorStatus = "AVAILABLE"
	VendorBusy      VendorStatus = "BUSY"
	VendorClosed    VendorStatus = "CLOSED"
)

// ParseVendorStatus normalises s and reports whether it names a known status.
func ParseVendorStatus(s string) (VendorStatus, bool) {
	status := VendorStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case VendorAvailable, VendorBusy, VendorClosed:
		return status, true
	}
	return "", false
}

// Vendor sells menu items within a single event.
type Vendor struct {
	bun.BaseModel `bun:"table:vendors"`

	ID        int64        `bun:",pk,autoincrement" json:"id"`
	EventID   int64        `bun:"event_id,notnull" json:"event_id"`
	Name      string       `bun:"name,notnull" json:"name"`
	Active    bool         `bun:"active,notnull" json:"active"`
	Status    VendorStatus `bun:"status,notnull" json:"status"`
	PickupPin string       `bun:"pickup_pin,nullzero" json:"-"`
	CreatedAt time.Time    `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// MenuItem is something a vendor offers. Prices are informational only.
type MenuItem struct {
	bun.BaseModel `bun:"table:menu_items"`

	ID          int64  `bun:",pk,autoincrement" json:"id"`
	VendorID    int64  `bun:"vendor_id,notnull" json:"vendor_id"`
	Name        string `bun:"name,notnull" json:"name"`
	Category    string `bun:"category,nullzero" json:"category,omitempty"`
	PriceCents  int64  `bun:"price_cents,notnull" json:"price_cents"`
	Available   bool   `bun:"available,notnull" json:"available"`
	MaxPerOrder *int   `bun:"max_per_order" json:"max_per_order,omitempty"`
}
