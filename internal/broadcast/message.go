package broadcast

import "github.com/Additional-Code/foodpass/internal/entity"

// OrdersTopic is the per-event channel carrying order updates.
func OrdersTopic(eventCode string) string {
	return "orders/" + eventCode
}

// VendorStatusTopic is the per-event channel carrying vendor availability.
func VendorStatusTopic(eventCode string) string {
	return "vendor-status/" + eventCode
}

// OrderUpdate is published whenever an order is created or changes status.
type OrderUpdate struct {
	OrderID           int64  `json:"orderId"`
	EventCode         string `json:"eventCode"`
	Status            string `json:"status"`
	HolderName        string `json:"holderName"`
	VendorName        string `json:"vendorName"`
	ItemSummary       string `json:"itemSummary"`
	VendorOrderNumber int    `json:"vendorOrderNumber"`
}

// NewOrderUpdate renders an order loaded with its vendor, ticket and items.
func NewOrderUpdate(eventCode string, order *entity.Order) OrderUpdate {
	update := OrderUpdate{
		OrderID:           order.ID,
		EventCode:         eventCode,
		Status:            string(order.Status),
		ItemSummary:       order.ItemSummary(),
		VendorOrderNumber: order.VendorOrderNumber,
	}
	if order.Ticket != nil {
		update.HolderName = order.Ticket.HolderName
	}
	if order.Vendor != nil {
		update.VendorName = order.Vendor.Name
	}
	return update
}

// VendorStatusUpdate is published when a vendor changes availability.
type VendorStatusUpdate struct {
	VendorID   int64  `json:"vendorId"`
	EventCode  string `json:"eventCode"`
	VendorName string `json:"vendorName"`
	Status     string `json:"status"`
}

// Envelope is what subscribers and the relay receive.
type Envelope struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}
