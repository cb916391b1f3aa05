package ticket

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	qrcode "github.com/skip2/go-qrcode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

const (
	// DefaultQRSize is the PNG edge length in pixels.
	DefaultQRSize = 256
	// MaxQRUpload bounds the size of an uploaded ticket photo.
	MaxQRUpload = 8 << 20

	unclearQRMessage = "Please upload a clear QR code image."
)

// RenderQR encodes a ticket QR code as a PNG image.
func RenderQR(code string, size int) ([]byte, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errorbank.Validation("QR code is empty")
	}
	if size <= 0 || size > 2048 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, errorbank.Internal("failed to render QR code", errorbank.WithCause(err))
	}
	return png, nil
}

// DecodeQR reads the text of the QR code in a PNG or JPEG photo. Unreadable
// images and images without a code are Validation errors.
func DecodeQR(r io.Reader) (string, error) {
	img, _, err := image.Decode(io.LimitReader(r, MaxQRUpload))
	if err != nil {
		return "", errorbank.Validation(unclearQRMessage, errorbank.WithCause(err))
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", errorbank.Validation(unclearQRMessage, errorbank.WithCause(err))
	}
	hints := map[gozxing.DecodeHintType]any{gozxing.DecodeHintType_TRY_HARDER: true}
	result, err := zxingqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", errorbank.Validation(unclearQRMessage, errorbank.WithCause(err))
	}
	text := strings.TrimSpace(result.GetText())
	if text == "" {
		return "", errorbank.Validation(unclearQRMessage)
	}
	return text, nil
}

// ResolveUpload decodes a photographed ticket QR code and resolves it like a
// typed one, binding the ticket to deviceHash on first use.
func (s *Service) ResolveUpload(ctx context.Context, eventCode string, photo io.Reader, deviceHash string) (*entity.Ticket, error) {
	ctx, span := serviceTracer.Start(ctx, "TicketService.ResolveUpload", trace.WithAttributes(
		attribute.String("event.code", eventCode),
	))
	defer span.End()

	code, err := DecodeQR(photo)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, eventCode, &code, deviceHash)
}
