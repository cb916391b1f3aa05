package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/observability"
	"github.com/Additional-Code/foodpass/internal/presentation/http/request"
	"github.com/Additional-Code/foodpass/internal/presentation/http/response"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

// Module exposes the HTTP server lifecycle to Fx.
var Module = fx.Module("http_server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

const readHeaderTimeout = 5 * time.Second

// RequestValidator adapts go-playground/validator to echo.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator returns a validator honouring `validate` struct tags.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate satisfies echo.Validator.
func (v *RequestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

// NewEcho builds the router shared by guest, staff and vendor screens.
func NewEcho(cfg config.Config, obs *observability.Manager, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderContentType,
			request.HeaderUser,
			request.HeaderRole,
			request.HeaderVendorID,
			request.HeaderDeviceHash,
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == cfg.Observability.PrometheusPath
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if cause, ok := c.Get(response.CauseKey).(error); ok {
				logger.Error("http request failed", append(fields, zap.Error(cause))...)
				return nil
			}
			logger.Debug("http request", fields...)
			return nil
		},
	}))

	if obs != nil && obs.TracingEnabled() {
		e.Use(otelecho.Middleware(cfg.Observability.ServiceName))
	}

	e.GET("/health", func(c echo.Context) error {
		return response.New(c).WithData(map[string]string{"status": "ok"}).Build()
	})

	if obs != nil && obs.MetricsHandler() != nil {
		e.GET(cfg.Observability.PrometheusPath, echo.WrapHandler(obs.MetricsHandler()))
	}

	return e
}

// errorHandler renders errors that escaped handlers, including echo's own
// routing errors, in the standard envelope.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			err = fromHTTPError(he)
		}
		if renderErr := response.Error(c, err); renderErr != nil {
			logger.Error("render error response", zap.Error(renderErr), zap.NamedError("cause", err))
		}
	}
}

func fromHTTPError(he *echo.HTTPError) error {
	message := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok && m != "" {
		message = m
	}
	switch he.Code {
	case http.StatusNotFound:
		return errorbank.NotFound(message)
	case http.StatusMethodNotAllowed, http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return errorbank.BadRequest(message)
	case http.StatusForbidden, http.StatusUnauthorized:
		return errorbank.Forbidden(message)
	case http.StatusServiceUnavailable:
		return errorbank.Unavailable(message)
	default:
		return errorbank.Internal(message, errorbank.WithCause(he))
	}
}

// Run starts the HTTP server and ties it to the Fx lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}
