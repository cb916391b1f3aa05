package checkout

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/cart"
	"github.com/Additional-Code/foodpass/internal/dto"
	"github.com/Additional-Code/foodpass/internal/presentation/http/request"
	"github.com/Additional-Code/foodpass/internal/presentation/http/response"
	service "github.com/Additional-Code/foodpass/internal/service/checkout"
	"github.com/Additional-Code/foodpass/internal/service/ticket"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/foodpass/transport/http/checkout")

// Handler exposes checkout and admission previews.
type Handler struct {
	svc     *service.Service
	tickets *ticket.Service
	carts   *cart.Store
	logger  *zap.Logger
}

// NewHandler constructs a checkout Handler.
func NewHandler(svc *service.Service, tickets *ticket.Service, carts *cart.Store, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, tickets: tickets, carts: carts, logger: logger}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/events/:code")
	g.POST("/checkout", h.checkout)
	g.GET("/checkout", h.recent)
	g.POST("/admission", h.admission)
}

type checkoutPayload struct {
	QRCode     *string         `json:"qrCode"`
	DeviceHash string          `json:"deviceHash"`
	Cart       dto.CartPayload `json:"cart" validate:"omitempty,dive,dive"`
}

type admissionPayload struct {
	QRCode     *string `json:"qrCode"`
	DeviceHash string  `json:"deviceHash"`
	VendorID   int64   `json:"vendorId" validate:"required,gt=0"`
	Qty        int     `json:"qty" validate:"required,gte=1"`
}

func (h *Handler) checkout(c echo.Context) error {
	b := response.New(c)
	code := c.Param("code")

	var payload checkoutPayload
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}
	device := request.DeviceHash(c, payload.DeviceHash)

	ctx, span := httpTracer.Start(c.Request().Context(), "checkout.submit", trace.WithAttributes(attribute.String("event.code", code)))
	defer span.End()

	var (
		stored *cart.Cart
		groups []cart.Group
	)
	if payload.Cart == nil {
		var err error
		stored, err = h.carts.Load(ctx, code, device)
		if err != nil {
			return b.WithError(errorbank.Internal("failed to load cart", errorbank.WithCause(err))).Build()
		}
		groups = stored.Groups()
	} else {
		var err error
		groups, err = payload.Cart.Groups()
		if err != nil {
			return b.WithError(errorbank.BadRequest("invalid cart", errorbank.WithCause(err))).Build()
		}
	}

	principal := request.Principal(c)
	result, err := h.svc.Checkout(ctx, service.Request{
		EventCode:  code,
		QRCode:     payload.QRCode,
		DeviceHash: device,
		Groups:     groups,
		Username:   principal.Name(),
	})
	// a failed checkout may still have committed some groups
	if stored != nil && result != nil && len(result.Orders) > 0 {
		for _, vendorID := range result.Accepted() {
			stored.RemoveVendorGroup(vendorID)
		}
		if err := h.carts.Save(ctx, code, device, stored); err != nil {
			h.logger.Warn("failed to trim cart after checkout", zap.String("event", code), zap.Error(err))
		}
	}
	if err != nil {
		return b.WithError(err).Build()
	}

	status := http.StatusOK
	if len(result.Orders) > 0 {
		status = http.StatusCreated
	}
	return b.WithStatus(status).
		WithData(dto.NewCheckoutResponse(result.Ticket, result.Orders, result.Rejections)).
		Build()
}

func (h *Handler) recent(c echo.Context) error {
	b := response.New(c)
	code := c.Param("code")

	ctx, span := httpTracer.Start(c.Request().Context(), "checkout.recent", trace.WithAttributes(attribute.String("event.code", code)))
	defer span.End()

	tkt, err := h.tickets.FindForDevice(ctx, code, request.DeviceHash(c, c.QueryParam("deviceHash")))
	if err != nil {
		return b.WithError(err).Build()
	}
	orders, err := h.svc.RecentOrders(ctx, code, tkt)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderSnapshots(orders)).WithMeta("ticket", dto.NewTicketResponse(tkt)).Build()
}

func (h *Handler) admission(c echo.Context) error {
	b := response.New(c)

	var payload admissionPayload
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "checkout.admission", trace.WithAttributes(attribute.Int64("vendor.id", payload.VendorID)))
	defer span.End()

	decision, err := h.svc.Admit(ctx, service.AdmitRequest{
		EventCode:  c.Param("code"),
		QRCode:     payload.QRCode,
		DeviceHash: request.DeviceHash(c, payload.DeviceHash),
		VendorID:   payload.VendorID,
		Qty:        payload.Qty,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(decision).Build()
}
