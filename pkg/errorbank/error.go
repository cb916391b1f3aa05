// Package errorbank defines the application error type shared by the HTTP and
// gRPC surfaces. Services return AppErrors; transports render them.
package errorbank

import (
	"errors"
	"fmt"
	"maps"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind enumerates supported application error categories.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindConflict            Kind = "conflict"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindUnprocessableEntity Kind = "unprocessable_entity"
	KindUnavailable         Kind = "unavailable"
	KindInternal            Kind = "internal"
)

type mapping struct {
	http int
	grpc codes.Code
}

var mappings = map[Kind]mapping{
	KindBadRequest:          {http.StatusBadRequest, codes.InvalidArgument},
	KindConflict:            {http.StatusConflict, codes.AlreadyExists},
	KindForbidden:           {http.StatusForbidden, codes.PermissionDenied},
	KindNotFound:            {http.StatusNotFound, codes.NotFound},
	KindUnprocessableEntity: {http.StatusUnprocessableEntity, codes.FailedPrecondition},
	KindUnavailable:         {http.StatusServiceUnavailable, codes.Unavailable},
	KindInternal:            {http.StatusInternalServerError, codes.Internal},
}

// AppError carries a kind, a message safe to show to guests and staff, and
// optional structured details such as the remaining allowance.
type AppError struct {
	kind    Kind
	message string
	details map[string]any
	cause   error
}

// Option mutates an AppError during construction.
type Option func(*AppError)

// WithCause attaches an underlying error. The cause is never rendered.
func WithCause(err error) Option {
	return func(e *AppError) { e.cause = err }
}

// WithDetail adds a single named detail value.
func WithDetail(key string, value any) Option {
	return func(e *AppError) {
		if e.details == nil {
			e.details = make(map[string]any)
		}
		e.details[key] = value
	}
}

// WithDetails merges multiple detail values.
func WithDetails(details map[string]any) Option {
	return func(e *AppError) {
		if len(details) == 0 {
			return
		}
		if e.details == nil {
			e.details = make(map[string]any, len(details))
		}
		maps.Copy(e.details, details)
	}
}

// New constructs an AppError. An empty message falls back to the kind.
func New(kind Kind, message string, opts ...Option) *AppError {
	if _, ok := mappings[kind]; !ok {
		kind = KindInternal
	}
	if message == "" {
		message = string(kind)
	}
	e := &AppError{kind: kind, message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Kind returns the error category.
func (e *AppError) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

// Message returns the client-facing message without the cause.
func (e *AppError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details returns optional metadata about the error.
func (e *AppError) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// StatusCode resolves the HTTP status for the error kind.
func (e *AppError) StatusCode() int {
	return mappings[e.Kind()].http
}

// GRPCCode maps the error kind onto a gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	return mappings[e.Kind()].grpc
}

// GRPCStatus lets status.FromError and grpc handlers convert an AppError
// without an explicit translation step.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Message())
}

func BadRequest(message string, opts ...Option) *AppError {
	return New(KindBadRequest, message, opts...)
}

func Conflict(message string, opts ...Option) *AppError {
	return New(KindConflict, message, opts...)
}

func Forbidden(message string, opts ...Option) *AppError {
	return New(KindForbidden, message, opts...)
}

func NotFound(message string, opts ...Option) *AppError {
	return New(KindNotFound, message, opts...)
}

func Unprocessable(message string, opts ...Option) *AppError {
	return New(KindUnprocessableEntity, message, opts...)
}

// Validation is used for business rule violations: tier limits, closed
// vendors, unavailable items, bad quantities.
func Validation(message string, opts ...Option) *AppError {
	return Unprocessable(message, opts...)
}

// Unavailable signals a dependency (database, redis, broker) that could not
// be reached. Clients may retry.
func Unavailable(message string, opts ...Option) *AppError {
	return New(KindUnavailable, message, opts...)
}

func Internal(message string, opts ...Option) *AppError {
	return New(KindInternal, message, opts...)
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind() == kind
}

// From returns the AppError inside err, or wraps err as Internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", WithCause(err))
}
