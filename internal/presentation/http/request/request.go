package request

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/foodpass/internal/access"
	"github.com/Additional-Code/foodpass/internal/fingerprint"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

// Headers set by the upstream authenticating proxy.
const (
	HeaderUser       = "X-User"
	HeaderRole       = "X-Role"
	HeaderVendorID   = "X-Vendor-ID"
	HeaderDeviceHash = "X-Device-Hash"
)

// Principal reads the caller identity from request headers. Missing headers
// yield an anonymous guest.
func Principal(c echo.Context) access.Principal {
	h := c.Request().Header
	p := access.Principal{
		Username: strings.TrimSpace(h.Get(HeaderUser)),
		Role:     access.ParseRole(h.Get(HeaderRole)),
	}
	if id, err := strconv.ParseInt(h.Get(HeaderVendorID), 10, 64); err == nil {
		p.VendorID = id
	}
	return p
}

// DeviceHash picks the device identity: the body value, then the header, then
// a fingerprint of the user agent and client address.
func DeviceHash(c echo.Context, supplied string) string {
	if v := strings.TrimSpace(supplied); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.Request().Header.Get(HeaderDeviceHash)); v != "" {
		return v
	}
	return fingerprint.FromRequest(c.Request().UserAgent(), c.RealIP())
}

// Bind decodes and validates the payload into dest.
func Bind(c echo.Context, dest any) error {
	if err := c.Bind(dest); err != nil {
		return errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
	if c.Echo().Validator == nil {
		return nil
	}
	if err := c.Validate(dest); err != nil {
		return errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
	return nil
}

// ID parses a positive integer path parameter.
func ID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid "+name, errorbank.WithCause(err))
	}
	return id, nil
}
