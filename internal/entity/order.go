package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// OrderStatus is a stage of the order lifecycle.
type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusPreparing OrderStatus = "PREPARING"
	StatusReady     OrderStatus = "READY"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// OpenStatuses are the statuses of orders still awaiting pickup.
var OpenStatuses = []OrderStatus{StatusNew, StatusPreparing, StatusReady}

// ParseOrderStatus normalises s and reports whether it names a known status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case StatusNew, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return status, true
	}
	return "", false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is a guest's request to a single vendor.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID                int64       `bun:",pk,autoincrement"`
	EventID           int64       `bun:"event_id,notnull"`
	VendorID          int64       `bun:"vendor_id,notnull,unique:orders_vendor_number"`
	TicketID          int64       `bun:"ticket_id,notnull"`
	VendorOrderNumber int         `bun:"vendor_order_number,notnull,unique:orders_vendor_number"`
	Status            OrderStatus `bun:"status,notnull"`
	ConfirmedByGuest  bool        `bun:"confirmed_by_guest,notnull"`
	PinLast4          string      `bun:"pin_last4,nullzero"`
	CreatedAt         time.Time   `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time   `bun:"updated_at,nullzero"`

	Event  *Event       `bun:"rel:belongs-to,join:event_id=id"`
	Vendor *Vendor      `bun:"rel:belongs-to,join:vendor_id=id"`
	Ticket *Ticket      `bun:"rel:belongs-to,join:ticket_id=id"`
	Items  []*OrderItem `bun:"rel:has-many,join:id=order_id"`
}

// TotalQty sums the quantities of all items.
func (o *Order) TotalQty() int {
	total := 0
	for _, item := range o.Items {
		total += item.Qty
	}
	return total
}

// ItemSummary renders items as "2x Burger, 1x Fries".
func (o *Order) ItemSummary() string {
	parts := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		name := fmt.Sprintf("item #%d", item.MenuItemID)
		if item.MenuItem != nil {
			name = item.MenuItem.Name
		}
		parts = append(parts, fmt.Sprintf("%dx %s", item.Qty, name))
	}
	return strings.Join(parts, ", ")
}

// OrderItem is an immutable line of an order.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID         int64 `bun:",pk,autoincrement"`
	OrderID    int64 `bun:"order_id,notnull"`
	MenuItemID int64 `bun:"menu_item_id,notnull"`
	Qty        int   `bun:"qty,notnull"`

	MenuItem *MenuItem `bun:"rel:belongs-to,join:menu_item_id=id"`
}
