package order

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/audit"
	"github.com/Additional-Code/foodpass/internal/broadcast"
	"github.com/Additional-Code/foodpass/internal/messaging"
	"github.com/Additional-Code/foodpass/internal/worker"
)

var (
	workerTracer = otel.Tracer("github.com/Additional-Code/foodpass/worker/order")
	meter        = otel.Meter("github.com/Additional-Code/foodpass/worker/order")
)

// Module registers order and vendor status consumers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(NewOrderUpdateHandler, fx.ResultTags(`group:"worker.handlers"`)),
		fx.Annotate(NewVendorStatusHandler, fx.ResultTags(`group:"worker.handlers"`)),
	),
)

// relayed mirrors broadcast.Envelope with the payload left undecoded.
type relayed struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func decode[T any](ctx context.Context, name string, msg messaging.Message) (context.Context, trace.Span, T, error) {
	var out T
	ctx, span := workerTracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("broadcast.channel", msg.Headers[messaging.HeaderChannel]),
		attribute.Int64("messaging.offset", msg.Offset),
	))

	var env relayed
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode envelope")
		return ctx, span, out, fmt.Errorf("decode envelope: %w", err)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode payload")
		return ctx, span, out, fmt.Errorf("decode %s payload: %w", env.Topic, err)
	}
	return ctx, span, out, nil
}

// NewOrderUpdateHandler counts relayed order transitions per event and status.
func NewOrderUpdateHandler(logger *zap.Logger) worker.HandlerRegistration {
	transitions, _ := meter.Int64Counter("foodpass.worker.order_updates",
		metric.WithDescription("Relayed order updates by status"))

	return worker.HandlerRegistration{
		Channel: broadcast.OrdersTopic(""),
		Handler: func(ctx context.Context, msg messaging.Message) error {
			ctx, span, update, err := decode[broadcast.OrderUpdate](ctx, "worker.orders.process", msg)
			defer span.End()
			if err != nil {
				logger.Error("failed to decode order update", zap.Error(err))
				return err
			}

			transitions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("event", update.EventCode),
				attribute.String("status", update.Status),
			))
			logger.Info("order update processed",
				zap.Int64("order_id", update.OrderID),
				zap.String("event", update.EventCode),
				zap.String("vendor", update.VendorName),
				zap.String("status", update.Status),
				zap.Int("vendor_order_number", update.VendorOrderNumber),
			)
			return nil
		},
	}
}

// NewVendorStatusHandler copies relayed vendor availability changes into the
// audit trail of the worker process.
func NewVendorStatusHandler(logger *zap.Logger, recorder audit.Recorder) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		Channel: broadcast.VendorStatusTopic(""),
		Handler: func(ctx context.Context, msg messaging.Message) error {
			ctx, span, update, err := decode[broadcast.VendorStatusUpdate](ctx, "worker.vendor_status.process", msg)
			defer span.End()
			if err != nil {
				logger.Error("failed to decode vendor status", zap.Error(err))
				return err
			}

			recorder.Record(ctx, audit.CategoryVendor,
				fmt.Sprintf("%s (%d) relayed as %s", update.VendorName, update.VendorID, update.Status), "relay")
			return nil
		},
	}
}
