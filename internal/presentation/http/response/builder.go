// Package response renders the JSON envelope every foodpass endpoint returns:
// {"success":true,"data":...} or {"success":false,"error":{...}}.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Kind    errorbank.Kind `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the wire shape shared by success and failure responses.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorBody     `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Builder accumulates status, payload and metadata for one response.
type Builder struct {
	ctx    echo.Context
	status int
	data   any
	err    error
	meta   map[string]any
}

// New instantiates a Builder for the provided request context.
func New(ctx echo.Context) *Builder {
	return &Builder{ctx: ctx, status: http.StatusOK}
}

// WithStatus overrides the status. Error responses ignore codes below 400.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta adds a top level meta entry such as totals or the resolved ticket.
func (b *Builder) WithMeta(key string, value any) *Builder {
	if key == "" {
		return b
	}
	if b.meta == nil {
		b.meta = make(map[string]any)
	}
	b.meta[key] = value
	return b
}

// Build writes the envelope.
func (b *Builder) Build() error {
	if rid := b.ctx.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
		b.WithMeta("requestId", rid)
	}
	if b.err != nil {
		return b.fail()
	}
	return b.ctx.JSON(b.status, Envelope{Success: true, Data: b.data, Meta: b.meta})
}

func (b *Builder) fail() error {
	appErr := errorbank.From(b.err)
	status := b.status
	if status < http.StatusBadRequest {
		status = appErr.StatusCode()
	}
	if status >= http.StatusInternalServerError {
		// Surfaces the cause to the server's error logging without leaking it.
		b.ctx.Set(CauseKey, b.err)
	}
	return b.ctx.JSON(status, Envelope{
		Success: false,
		Error: &ErrorBody{
			Kind:    appErr.Kind(),
			Message: appErr.Message(),
			Details: appErr.Details(),
		},
		Meta: b.meta,
	})
}

// CauseKey is the echo context key holding the error behind a 5xx response.
const CauseKey = "foodpass.error_cause"

// Error renders err with its default status. It is the echo.HTTPErrorHandler
// fallback for errors that escape a handler.
func Error(c echo.Context, err error) error {
	return New(c).WithError(err).Build()
}
