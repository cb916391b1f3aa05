package dto

import (
	"time"

	"github.com/Additional-Code/foodpass/internal/entity"
)

// OrderItemSnapshot is one line of an order as exposed via transport layers.
type OrderItemSnapshot struct {
	MenuItemID int64  `json:"itemId"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
}

// OrderSnapshot represents an order as exposed via transport layers.
type OrderSnapshot struct {
	ID                int64               `json:"id"`
	EventID           int64               `json:"eventId"`
	VendorID          int64               `json:"vendorId"`
	VendorName        string              `json:"vendorName,omitempty"`
	VendorOrderNumber int                 `json:"vendorOrderNumber"`
	TicketID          int64               `json:"ticketId"`
	HolderName        string              `json:"holderName,omitempty"`
	Status            string              `json:"status"`
	ConfirmedByGuest  bool                `json:"confirmedByGuest"`
	Items             []OrderItemSnapshot `json:"items"`
	ItemSummary       string              `json:"itemSummary"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt,omitempty"`
}

// NewOrderSnapshot converts a loaded order.
func NewOrderSnapshot(order *entity.Order) OrderSnapshot {
	snap := OrderSnapshot{
		ID:                order.ID,
		EventID:           order.EventID,
		VendorID:          order.VendorID,
		VendorOrderNumber: order.VendorOrderNumber,
		TicketID:          order.TicketID,
		Status:            string(order.Status),
		ConfirmedByGuest:  order.ConfirmedByGuest,
		Items:             make([]OrderItemSnapshot, 0, len(order.Items)),
		ItemSummary:       order.ItemSummary(),
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
	if order.Vendor != nil {
		snap.VendorName = order.Vendor.Name
	}
	if order.Ticket != nil {
		snap.HolderName = order.Ticket.HolderName
	}
	for _, item := range order.Items {
		line := OrderItemSnapshot{MenuItemID: item.MenuItemID, Qty: item.Qty}
		if item.MenuItem != nil {
			line.Name = item.MenuItem.Name
		}
		snap.Items = append(snap.Items, line)
	}
	return snap
}

// NewOrderSnapshots converts a list of loaded orders.
func NewOrderSnapshots(orders []*entity.Order) []OrderSnapshot {
	out := make([]OrderSnapshot, 0, len(orders))
	for _, order := range orders {
		out = append(out, NewOrderSnapshot(order))
	}
	return out
}

// TicketResponse is a ticket as shown to its holder.
type TicketResponse struct {
	ID         int64  `json:"id"`
	QRCode     string `json:"qrCode"`
	TierCode   string `json:"tierCode"`
	HolderName string `json:"holderName,omitempty"`
	Serial     string `json:"serial,omitempty"`
	Bound      bool   `json:"bound"`
}

// NewTicketResponse converts a ticket without leaking its device hash.
func NewTicketResponse(ticket *entity.Ticket) TicketResponse {
	return TicketResponse{
		ID:         ticket.ID,
		QRCode:     ticket.QRCode,
		TierCode:   string(ticket.TierCode),
		HolderName: ticket.HolderName,
		Serial:     ticket.Serial,
		Bound:      ticket.IsBound(),
	}
}
