package cart

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/foodpass/internal/cart"
	"github.com/Additional-Code/foodpass/internal/dto"
	"github.com/Additional-Code/foodpass/internal/presentation/http/request"
	"github.com/Additional-Code/foodpass/internal/presentation/http/response"
	"github.com/Additional-Code/foodpass/internal/service/checkout"
	"github.com/Additional-Code/foodpass/internal/service/policy"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/foodpass/transport/http/cart")

// Handler keeps a device's cart between requests.
type Handler struct {
	carts    *cart.Store
	policies *policy.Service
	checkout *checkout.Service
}

// NewHandler constructs a cart Handler.
func NewHandler(carts *cart.Store, policies *policy.Service, checkout *checkout.Service) *Handler {
	return &Handler{carts: carts, policies: policies, checkout: checkout}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/events/:code/cart")
	g.GET("", h.get)
	g.DELETE("", h.clear)
	g.POST("/items", h.add)
	g.DELETE("/items/:vendorId/:itemId", h.remove)
	g.DELETE("/vendors/:vendorId", h.removeVendor)
}

type addPayload struct {
	QRCode     *string `json:"qrCode"`
	DeviceHash string  `json:"deviceHash"`
	VendorID   int64   `json:"vendorId" validate:"required,gt=0"`
	ItemID     int64   `json:"itemId" validate:"required,gt=0"`
	Qty        int     `json:"qty" validate:"required,gte=1"`
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)
	code := c.Param("code")

	ctx, span := httpTracer.Start(c.Request().Context(), "cart.get", trace.WithAttributes(attribute.String("event.code", code)))
	defer span.End()

	current, err := h.carts.Load(ctx, code, request.DeviceHash(c, c.QueryParam("deviceHash")))
	if err != nil {
		return b.WithError(errorbank.Internal("failed to load cart", errorbank.WithCause(err))).Build()
	}
	return b.WithData(dto.NewCartResponse(current)).Build()
}

// add puts an item in the cart. Single-vendor events refuse a second vendor,
// and admission is checked against the quantity the vendor group would reach.
func (h *Handler) add(c echo.Context) error {
	b := response.New(c)
	code := c.Param("code")

	var payload addPayload
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}
	device := request.DeviceHash(c, payload.DeviceHash)

	ctx, span := httpTracer.Start(c.Request().Context(), "cart.add", trace.WithAttributes(
		attribute.String("event.code", code),
		attribute.Int64("vendor.id", payload.VendorID),
	))
	defer span.End()

	event, err := h.policies.Event(ctx, code)
	if err != nil {
		return b.WithError(err).Build()
	}
	current, err := h.carts.Load(ctx, code, device)
	if err != nil {
		return b.WithError(errorbank.Internal("failed to load cart", errorbank.WithCause(err))).Build()
	}
	if !event.EnableMultiVendorCart {
		for _, vendorID := range current.VendorIDs() {
			if vendorID != payload.VendorID {
				return b.WithError(errorbank.Validation(checkout.ReasonSingleVendorOnly)).Build()
			}
		}
	}

	decision, err := h.checkout.Admit(ctx, checkout.AdmitRequest{
		EventCode:  code,
		QRCode:     payload.QRCode,
		DeviceHash: device,
		VendorID:   payload.VendorID,
		Qty:        current.VendorQty(payload.VendorID) + payload.Qty,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	if !decision.Allowed {
		return b.WithError(errorbank.Validation(decision.Reason, errorbank.WithDetail("remaining", decision.Remaining))).Build()
	}

	if err := current.Add(payload.VendorID, payload.ItemID, payload.Qty); err != nil {
		return b.WithError(errorbank.Validation(err.Error())).Build()
	}
	if err := h.carts.Save(ctx, code, device, current); err != nil {
		return b.WithError(errorbank.Internal("failed to save cart", errorbank.WithCause(err))).Build()
	}
	return b.WithData(dto.NewCartResponse(current)).Build()
}

func (h *Handler) remove(c echo.Context) error {
	b := response.New(c)
	vendorID, err := request.ID(c, "vendorId")
	if err != nil {
		return b.WithError(err).Build()
	}
	itemID, err := request.ID(c, "itemId")
	if err != nil {
		return b.WithError(err).Build()
	}
	return h.mutate(c, func(current *cart.Cart) { current.Remove(vendorID, itemID) })
}

func (h *Handler) removeVendor(c echo.Context) error {
	vendorID, err := request.ID(c, "vendorId")
	if err != nil {
		return response.New(c).WithError(err).Build()
	}
	return h.mutate(c, func(current *cart.Cart) { current.RemoveVendorGroup(vendorID) })
}

func (h *Handler) clear(c echo.Context) error {
	b := response.New(c)
	code := c.Param("code")

	ctx, span := httpTracer.Start(c.Request().Context(), "cart.clear")
	defer span.End()

	if err := h.carts.Clear(ctx, code, request.DeviceHash(c, c.QueryParam("deviceHash"))); err != nil {
		return b.WithError(errorbank.Internal("failed to clear cart", errorbank.WithCause(err))).Build()
	}
	return b.WithData(dto.NewCartResponse(cart.New())).Build()
}

func (h *Handler) mutate(c echo.Context, fn func(*cart.Cart)) error {
	b := response.New(c)
	code := c.Param("code")
	device := request.DeviceHash(c, c.QueryParam("deviceHash"))

	ctx, span := httpTracer.Start(c.Request().Context(), "cart.mutate", trace.WithAttributes(attribute.String("event.code", code)))
	defer span.End()

	current, err := h.carts.Load(ctx, code, device)
	if err != nil {
		return b.WithError(errorbank.Internal("failed to load cart", errorbank.WithCause(err))).Build()
	}
	fn(current)
	if err := h.carts.Save(ctx, code, device, current); err != nil {
		return b.WithError(errorbank.Internal("failed to save cart", errorbank.WithCause(err))).Build()
	}
	return b.WithData(dto.NewCartResponse(current)).Build()
}
