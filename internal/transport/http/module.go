package http

import (
	"go.uber.org/fx"

	carttransport "github.com/Additional-Code/foodpass/internal/transport/http/cart"
	checkouttransport "github.com/Additional-Code/foodpass/internal/transport/http/checkout"
	ordertransport "github.com/Additional-Code/foodpass/internal/transport/http/order"
	streamtransport "github.com/Additional-Code/foodpass/internal/transport/http/stream"
	tickettransport "github.com/Additional-Code/foodpass/internal/transport/http/ticket"
	vendortransport "github.com/Additional-Code/foodpass/internal/transport/http/vendor"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	carttransport.Module,
	checkouttransport.Module,
	ordertransport.Module,
	streamtransport.Module,
	tickettransport.Module,
	vendortransport.Module,
)
