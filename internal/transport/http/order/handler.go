package order

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/foodpass/internal/access"
	"github.com/Additional-Code/foodpass/internal/dto"
	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/presentation/http/request"
	"github.com/Additional-Code/foodpass/internal/presentation/http/response"
	service "github.com/Additional-Code/foodpass/internal/service/order"
	"github.com/Additional-Code/foodpass/internal/service/ticket"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/foodpass/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc     *service.Service
	tickets *ticket.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service, tickets *ticket.Service) *Handler {
	return &Handler{svc: svc, tickets: tickets}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/events/:code")
	g.GET("/board", h.board)
	g.GET("/orders/:id", h.getByID)
	g.POST("/orders/:id/status", h.markStatus)
	g.POST("/orders/:id/advance", h.advance)
	g.POST("/orders/:id/confirm-pickup", h.confirmPickup)
}

type statusPayload struct {
	Status string  `json:"status" validate:"required"`
	Pin    *string `json:"pin"`
}

type pinPayload struct {
	Pin        *string `json:"pin"`
	DeviceHash string  `json:"deviceHash"`
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, c.Param("code"), id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.NewOrderSnapshot(order)).Build()
}

func (h *Handler) markStatus(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload statusPayload
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}
	target, ok := entity.ParseOrderStatus(payload.Status)
	if !ok {
		return b.WithError(errorbank.Validation("Unknown status", errorbank.WithDetail("status", payload.Status))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.markStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.target", string(target)),
	))
	defer span.End()

	principal := request.Principal(c)
	var order *entity.Order
	if target == entity.StatusCompleted {
		order, err = h.svc.MarkCompletedByGuest(ctx, principal, c.Param("code"), id, payload.Pin)
	} else {
		order, err = h.svc.MarkStatus(ctx, principal, c.Param("code"), id, target)
	}
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderSnapshot(order)).Build()
}

func (h *Handler) advance(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload pinPayload
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.advance", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Advance(ctx, request.Principal(c), c.Param("code"), id, payload.Pin)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderSnapshot(order)).Build()
}

func (h *Handler) confirmPickup(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload pinPayload
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.confirmPickup", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	principal := request.Principal(c)
	if principal.Role == access.Guest {
		// a guest acts for the ticket bound to their device
		tkt, err := h.tickets.FindForDevice(ctx, c.Param("code"), request.DeviceHash(c, payload.DeviceHash))
		if err != nil {
			return b.WithError(err).Build()
		}
		principal.TicketID = tkt.ID
	}

	order, err := h.svc.MarkCompletedByGuest(ctx, principal, c.Param("code"), id, payload.Pin)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderSnapshot(order)).Build()
}

func (h *Handler) board(c echo.Context) error {
	b := response.New(c)

	var ticketID int64
	if raw := c.QueryParam("ticketId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return b.WithError(errorbank.BadRequest("invalid ticketId", errorbank.WithCause(err))).Build()
		}
		ticketID = id
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.board", trace.WithAttributes(attribute.String("event.code", c.Param("code"))))
	defer span.End()

	board, err := h.svc.Board(ctx, request.Principal(c), c.Param("code"), ticketID)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make(map[string][]dto.OrderSnapshot, len(board))
	total := 0
	for status, orders := range board {
		out[string(status)] = dto.NewOrderSnapshots(orders)
		total += len(orders)
	}
	return b.WithStatus(http.StatusOK).WithData(out).WithMeta("total", total).Build()
}
