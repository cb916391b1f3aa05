package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is a venue occasion guests order food at. Its flags drive cart and pickup policy.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID                        int64     `bun:",pk,autoincrement" json:"id"`
	Code                      string    `bun:"code,notnull,unique" json:"code"`
	Name                      string    `bun:"name" json:"name"`
	StartAt                   time.Time `bun:"start_at,nullzero" json:"start_at"`
	EndAt                     time.Time `bun:"end_at,nullzero" json:"end_at"`
	EnableGuestPickupConfirm  bool      `bun:"enable_guest_pickup_confirm,notnull" json:"enable_guest_pickup_confirm"`
	RequireVendorPinForPickup bool      `bun:"require_vendor_pin_for_pickup,notnull" json:"require_vendor_pin_for_pickup"`
	EnableMultiVendorCart     bool      `bun:"enable_multi_vendor_cart,notnull" json:"enable_multi_vendor_cart"`
	BlockAddWhenOpenOrder     bool      `bun:"block_add_when_open_order,notnull" json:"block_add_when_open_order"`
	CreatedAt                 time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
