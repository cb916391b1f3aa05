// Package app assembles the Fx graphs run by the foodpass executables.
package app

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/audit"
	"github.com/Additional-Code/foodpass/internal/broadcast"
	"github.com/Additional-Code/foodpass/internal/cache"
	"github.com/Additional-Code/foodpass/internal/cart"
	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/database"
	"github.com/Additional-Code/foodpass/internal/lock"
	"github.com/Additional-Code/foodpass/internal/logger"
	"github.com/Additional-Code/foodpass/internal/messaging"
	"github.com/Additional-Code/foodpass/internal/observability"
	repositorycatalog "github.com/Additional-Code/foodpass/internal/repository/catalog"
	repositoryledger "github.com/Additional-Code/foodpass/internal/repository/ledger"
	repositoryorder "github.com/Additional-Code/foodpass/internal/repository/order"
	repositoryticket "github.com/Additional-Code/foodpass/internal/repository/ticket"
	grpcserver "github.com/Additional-Code/foodpass/internal/server/grpc"
	httpserver "github.com/Additional-Code/foodpass/internal/server/http"
	serviceadmission "github.com/Additional-Code/foodpass/internal/service/admission"
	servicecheckout "github.com/Additional-Code/foodpass/internal/service/checkout"
	serviceorder "github.com/Additional-Code/foodpass/internal/service/order"
	servicepolicy "github.com/Additional-Code/foodpass/internal/service/policy"
	serviceticket "github.com/Additional-Code/foodpass/internal/service/ticket"
	servicevendor "github.com/Additional-Code/foodpass/internal/service/vendor"
	transporthttp "github.com/Additional-Code/foodpass/internal/transport/http"
	"github.com/Additional-Code/foodpass/internal/worker"
	workerorder "github.com/Additional-Code/foodpass/internal/worker/order"
)

// EventLogger routes Fx lifecycle events through the service logger.
var EventLogger = fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: l.Named("fx")}
})

// Infrastructure holds configuration, telemetry and the stores every
// process connects to.
var Infrastructure = fx.Options(
	config.Module,
	logger.Module,
	observability.Module,
	database.Module,
	cache.Module,
	lock.Module,
	messaging.Module,
	audit.Module,
	broadcast.Module,
)

// Fulfillment holds the repositories and services behind ticket binding,
// admission, checkout and the order lifecycle.
var Fulfillment = fx.Options(
	repositorycatalog.Module,
	repositoryledger.Module,
	repositoryorder.Module,
	repositoryticket.Module,
	servicepolicy.Module,
	serviceticket.Module,
	serviceadmission.Module,
	serviceorder.Module,
	servicecheckout.Module,
	servicevendor.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Infrastructure,
	Fulfillment,
)

// HTTP serves guests, staff and vendor screens over HTTP and websockets,
// plus the gRPC health endpoint.
var HTTP = fx.Options(
	Core,
	cart.Module,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker consumes relayed broadcasts.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Standalone runs the HTTP surface and the worker in one process, for a
// single-node event setup.
var Standalone = fx.Options(
	HTTP,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
