package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// TierCode groups guests for consumption limits.
type TierCode string

const (
	TierVIP     TierCode = "VIP"
	TierRegular TierCode = "REG"
)

// MostPermissiveTier is assigned to synthesized walk-in tickets.
const MostPermissiveTier = TierVIP

// Ticket admits a guest to an event. BoundDeviceHash is written at most once.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID              int64     `bun:",pk,autoincrement" json:"id"`
	EventID         int64     `bun:"event_id,notnull" json:"event_id"`
	QRCode          string    `bun:"qr_code,notnull,unique" json:"qr_code"`
	TierCode        TierCode  `bun:"tier_code,notnull" json:"tier_code"`
	HolderName      string    `bun:"holder_name,nullzero" json:"holder_name,omitempty"`
	HolderPhone     string    `bun:"holder_phone,nullzero" json:"-"`
	Serial          string    `bun:"serial,nullzero" json:"serial,omitempty"`
	BoundDeviceHash *string   `bun:"bound_device_hash" json:"-"`
	Active          bool      `bun:"active,notnull" json:"active"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// IsBound reports whether a device has already claimed the ticket.
func (t *Ticket) IsBound() bool {
	return t.BoundDeviceHash != nil && *t.BoundDeviceHash != ""
}
