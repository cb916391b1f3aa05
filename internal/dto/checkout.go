package dto

import (
	"strconv"

	"github.com/Additional-Code/foodpass/internal/cart"
	"github.com/Additional-Code/foodpass/internal/entity"
)

// CheckoutResponse reports the orders a checkout created and the refused groups.
type CheckoutResponse struct {
	TicketID      int64            `json:"ticketId"`
	CreatedOrders []OrderSnapshot  `json:"createdOrders"`
	Rejections    map[int64]string `json:"rejections"`
}

// NewCheckoutResponse converts a checkout outcome.
func NewCheckoutResponse(ticket *entity.Ticket, orders []*entity.Order, rejections map[int64]string) CheckoutResponse {
	if rejections == nil {
		rejections = map[int64]string{}
	}
	return CheckoutResponse{TicketID: ticket.ID, CreatedOrders: NewOrderSnapshots(orders), Rejections: rejections}
}

// CartPayload is the wire form of a cart: vendor id to lines.
type CartPayload map[string][]cart.Line

// Groups converts the payload into vendor groups.
func (p CartPayload) Groups() ([]cart.Group, error) {
	groups := make([]cart.Group, 0, len(p))
	for key, lines := range p {
		vendorID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, err
		}
		groups = append(groups, cart.Group{VendorID: vendorID, Lines: lines})
	}
	return groups, nil
}

// CartResponse is a stored cart.
type CartResponse struct {
	Groups   []cart.Group `json:"groups"`
	TotalQty int          `json:"totalQty"`
}

// NewCartResponse converts a cart.
func NewCartResponse(c *cart.Cart) CartResponse {
	return CartResponse{Groups: c.Groups(), TotalQty: c.TotalQty()}
}
