package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

// toStatus converts handler errors into gRPC statuses carrying only the
// client-facing message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return status.Error(appErr.GRPCCode(), appErr.Message())
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, "internal error")
}

// logCall logs the converted status code alongside the raw handler error.
func logCall(logger *zap.Logger, kind, method string, start time.Time, err, cause error) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("kind", kind),
		zap.Duration("duration", time.Since(start)),
	}
	code := status.Code(err)
	fields = append(fields, zap.Stringer("code", code))
	switch code {
	case codes.OK:
		logger.Debug("grpc call finished", fields...)
	case codes.Internal, codes.Unknown, codes.Unavailable:
		logger.Error("grpc call failed", append(fields, zap.Error(cause))...)
	default:
		logger.Info("grpc call rejected", append(fields, zap.Error(cause))...)
	}
}

func recovered(logger *zap.Logger, method string, r any) error {
	logger.Error("grpc handler panicked", zap.String("method", method), zap.Any("panic", r), zap.Stack("stack"))
	return status.Error(codes.Internal, fmt.Sprintf("internal error in %s", method))
}

// unaryInterceptor recovers panics, converts errors and logs the outcome.
func unaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		var cause error
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
				cause = err
			}
			logCall(logger, "unary", info.FullMethod, start, err, cause)
		}()

		resp, cause = handler(ctx, req)
		return resp, toStatus(cause)
	}
}

func streamInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		var cause error
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
				cause = err
			}
			logCall(logger, "stream", info.FullMethod, start, err, cause)
		}()

		cause = handler(srv, ss)
		return toStatus(cause)
	}
}
