package ticket

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/foodpass/internal/dto"
	"github.com/Additional-Code/foodpass/internal/presentation/http/request"
	"github.com/Additional-Code/foodpass/internal/presentation/http/response"
	service "github.com/Additional-Code/foodpass/internal/service/ticket"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/foodpass/transport/http/ticket")

// Handler exposes ticket binding and QR rendering.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a ticket Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/events/:code/tickets")
	g.POST("/bind", h.bind)
	g.POST("/bind/photo", h.bindPhoto)
	g.GET("/device", h.forDevice)
	e.GET("/tickets/:qr/qr.png", h.qrImage)
}

type bindPayload struct {
	QRCode     string `json:"qrCode" validate:"required"`
	DeviceHash string `json:"deviceHash"`
}

func (h *Handler) bind(c echo.Context) error {
	b := response.New(c)

	var payload bindPayload
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tickets.bind", trace.WithAttributes(attribute.String("event.code", c.Param("code"))))
	defer span.End()

	ticket, err := h.svc.Resolve(ctx, c.Param("code"), &payload.QRCode, request.DeviceHash(c, payload.DeviceHash))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewTicketResponse(ticket)).Build()
}

// bindPhoto binds the ticket whose QR code is pictured in the "qrFile"
// multipart field.
func (h *Handler) bindPhoto(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "tickets.bindPhoto", trace.WithAttributes(attribute.String("event.code", c.Param("code"))))
	defer span.End()

	header, err := c.FormFile("qrFile")
	if err != nil {
		return b.WithError(errorbank.Validation("Please upload a clear QR code image.", errorbank.WithCause(err))).Build()
	}
	if header.Size > service.MaxQRUpload {
		return b.WithError(errorbank.Validation("QR image is too large")).Build()
	}
	file, err := header.Open()
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid upload", errorbank.WithCause(err))).Build()
	}
	defer file.Close()

	ticket, err := h.svc.ResolveUpload(ctx, c.Param("code"), file, request.DeviceHash(c, c.FormValue("deviceHash")))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewTicketResponse(ticket)).Build()
}

func (h *Handler) forDevice(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "tickets.forDevice")
	defer span.End()

	ticket, err := h.svc.FindForDevice(ctx, c.Param("code"), request.DeviceHash(c, c.QueryParam("deviceHash")))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewTicketResponse(ticket)).Build()
}

func (h *Handler) qrImage(c echo.Context) error {
	ctx, span := httpTracer.Start(c.Request().Context(), "tickets.qrImage")
	defer span.End()

	ticket, err := h.svc.ByQR(ctx, c.Param("qr"))
	if err != nil {
		return response.New(c).WithError(err).Build()
	}
	size, _ := strconv.Atoi(c.QueryParam("size"))
	png, err := service.RenderQR(ticket.QRCode, size)
	if err != nil {
		return response.New(c).WithError(err).Build()
	}
	return c.Blob(http.StatusOK, "image/png", png)
}
