// Package cart holds a guest's pending selection, grouped by vendor. Carts are
// owned by the caller; checkout only ever receives a snapshot of the groups.
package cart

import (
	"errors"
	"sort"
)

// ErrInvalidQty is returned for quantities below one.
var ErrInvalidQty = errors.New("quantity must be at least 1")

// Line is one menu item and how many of it.
type Line struct {
	MenuItemID int64 `json:"itemId" validate:"required,gt=0"`
	Qty        int   `json:"qty" validate:"required,gte=1"`
}

// Group is the slice of a cart destined for a single vendor.
type Group struct {
	VendorID int64  `json:"vendorId"`
	Lines    []Line `json:"lines"`
}

// Qty sums the quantities of the group.
func (g Group) Qty() int {
	total := 0
	for _, line := range g.Lines {
		total += line.Qty
	}
	return total
}

// Cart maps vendor id to menu item id to quantity.
type Cart struct {
	Lines map[int64]map[int64]int `json:"lines"`
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{Lines: make(map[int64]map[int64]int)}
}

// FromGroups builds a cart from explicit groups, merging repeated items.
func FromGroups(groups []Group) (*Cart, error) {
	c := New()
	for _, group := range groups {
		for _, line := range group.Lines {
			if err := c.Add(group.VendorID, line.MenuItemID, line.Qty); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Add increases the quantity of itemID at vendorID by qty.
func (c *Cart) Add(vendorID, itemID int64, qty int) error {
	if qty < 1 {
		return ErrInvalidQty
	}
	if c.Lines == nil {
		c.Lines = make(map[int64]map[int64]int)
	}
	items, ok := c.Lines[vendorID]
	if !ok {
		items = make(map[int64]int)
		c.Lines[vendorID] = items
	}
	items[itemID] += qty
	return nil
}

// Remove drops itemID from the vendor group, and the group once empty.
func (c *Cart) Remove(vendorID, itemID int64) {
	items, ok := c.Lines[vendorID]
	if !ok {
		return
	}
	delete(items, itemID)
	if len(items) == 0 {
		delete(c.Lines, vendorID)
	}
}

// RemoveVendorGroup drops everything destined for vendorID.
func (c *Cart) RemoveVendorGroup(vendorID int64) {
	delete(c.Lines, vendorID)
}

// VendorQty sums the quantities held for vendorID.
func (c *Cart) VendorQty(vendorID int64) int {
	total := 0
	for _, qty := range c.Lines[vendorID] {
		total += qty
	}
	return total
}

// TotalQty sums every quantity in the cart.
func (c *Cart) TotalQty() int {
	total := 0
	for vendorID := range c.Lines {
		total += c.VendorQty(vendorID)
	}
	return total
}

// Empty reports whether the cart holds nothing.
func (c *Cart) Empty() bool {
	return len(c.Lines) == 0
}

// VendorIDs returns the vendors present, ascending.
func (c *Cart) VendorIDs() []int64 {
	ids := make([]int64, 0, len(c.Lines))
	for id := range c.Lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Groups snapshots the cart, vendors and items in ascending id order.
func (c *Cart) Groups() []Group {
	groups := make([]Group, 0, len(c.Lines))
	for _, vendorID := range c.VendorIDs() {
		items := c.Lines[vendorID]
		group := Group{VendorID: vendorID, Lines: make([]Line, 0, len(items))}
		for itemID, qty := range items {
			group.Lines = append(group.Lines, Line{MenuItemID: itemID, Qty: qty})
		}
		sort.Slice(group.Lines, func(i, j int) bool { return group.Lines[i].MenuItemID < group.Lines[j].MenuItemID })
		groups = append(groups, group)
	}
	return groups
}
