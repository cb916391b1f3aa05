// Package audit records who did what. Entries are structured log lines; storage
// and viewing belong to whatever ships the logs.
package audit

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Category groups audit entries.
type Category string

const (
	CategoryOrder  Category = "ORDER"
	CategoryTicket Category = "TICKET"
	CategoryVendor Category = "VENDOR"
)

// Recorder accepts fire-and-forget audit entries.
type Recorder interface {
	Record(ctx context.Context, category Category, message, username string)
}

// Module provides the audit recorder to Fx.
var Module = fx.Provide(New)

type zapRecorder struct {
	logger *zap.Logger
}

// New returns a Recorder writing to a dedicated "audit" logger.
func New(logger *zap.Logger) Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return zapRecorder{logger: logger.Named("audit")}
}

func (r zapRecorder) Record(ctx context.Context, category Category, message, username string) {
	fields := []zap.Field{
		zap.String("category", string(category)),
		zap.String("username", username),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	r.logger.Info(message, fields...)
}
