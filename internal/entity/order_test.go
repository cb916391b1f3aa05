package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemSummary(t *testing.T) {
	order := &Order{Items: []*OrderItem{
		{MenuItemID: 1, Qty: 2, MenuItem: &MenuItem{Name: "Burger"}},
		{MenuItemID: 2, Qty: 1, MenuItem: &MenuItem{Name: "Fries"}},
		{MenuItemID: 9, Qty: 3},
	}}

	assert.Equal(t, "2x Burger, 1x Fries, 3x item #9", order.ItemSummary())
	assert.Equal(t, 6, order.TotalQty())
}

func TestParseOrderStatus(t *testing.T) {
	status, ok := ParseOrderStatus(" ready ")
	assert.True(t, ok)
	assert.Equal(t, StatusReady, status)

	_, ok = ParseOrderStatus("shipped")
	assert.False(t, ok)

	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusReady.Terminal())
}

func TestTierPolicyLimit(t *testing.T) {
	one := 1
	negative := -2

	assert.False(t, UnlimitedPolicy(1, TierVIP).HasLimit())
	assert.False(t, (&TierPolicy{Unlimited: false}).HasLimit())

	capped := &TierPolicy{MaxItemsPerVendor: &one}
	assert.True(t, capped.HasLimit())
	assert.Equal(t, 1, capped.Limit())

	assert.Equal(t, 0, (&TierPolicy{MaxItemsPerVendor: &negative}).Limit())
}
