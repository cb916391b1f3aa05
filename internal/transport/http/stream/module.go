package stream

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// Module wires websocket stream handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler) {
		Register(e, h)
	}),
)
