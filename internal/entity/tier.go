package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// TierPolicy caps how many items a tier may consume per vendor.
type TierPolicy struct {
	bun.BaseModel `bun:"table:tier_policies"`

	ID                int64    `bun:",pk,autoincrement" json:"id"`
	EventID           int64    `bun:"event_id,notnull,unique:tier_policies_event_tier" json:"event_id"`
	TierCode          TierCode `bun:"tier_code,notnull,unique:tier_policies_event_tier" json:"tier_code"`
	Unlimited         bool     `bun:"unlimited,notnull" json:"unlimited"`
	MaxItemsPerVendor *int     `bun:"max_items_per_vendor" json:"max_items_per_vendor,omitempty"`
}

// UnlimitedPolicy is the policy applied when none is configured for a tier.
func UnlimitedPolicy(eventID int64, tier TierCode) *TierPolicy {
	return &TierPolicy{EventID: eventID, TierCode: tier, Unlimited: true}
}

// HasLimit reports whether the policy enforces a per-vendor cap.
func (p *TierPolicy) HasLimit() bool {
	return p != nil && !p.Unlimited && p.MaxItemsPerVendor != nil
}

// Limit returns the cap, never negative. Only meaningful when HasLimit is true.
func (p *TierPolicy) Limit() int {
	if !p.HasLimit() || *p.MaxItemsPerVendor < 0 {
		return 0
	}
	return *p.MaxItemsPerVendor
}

// TierConsumption accumulates items a ticket has consumed at a vendor.
type TierConsumption struct {
	bun.BaseModel `bun:"table:tier_consumption"`

	ID                 int64     `bun:",pk,autoincrement"`
	EventID            int64     `bun:"event_id,notnull,unique:tier_consumption_key"`
	TicketID           int64     `bun:"ticket_id,notnull,unique:tier_consumption_key"`
	VendorID           int64     `bun:"vendor_id,notnull,unique:tier_consumption_key"`
	TotalItemsConsumed int       `bun:"total_items_consumed,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero"`
}
