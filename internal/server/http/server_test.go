package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/presentation/http/response"
)

type envelope struct {
	Success bool `json:"success"`
	Error   struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	Meta map[string]any `json:"meta"`
}

func serve(e *echo.Echo, method, path string) (*httptest.ResponseRecorder, envelope) {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestHealthAndRequestID(t *testing.T) {
	e := NewEcho(config.Config{}, nil, zap.NewNop())

	rec, env := serve(e, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), env.Meta["requestId"])
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	e := NewEcho(config.Config{}, nil, zap.NewNop())

	rec, env := serve(e, http.MethodGet, "/events/FEST/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "not_found", env.Error.Kind)
}

func TestHandlerErrorsAreLoggedWithCause(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := NewEcho(config.Config{}, nil, zap.New(core))
	e.GET("/boom", func(c echo.Context) error {
		return response.Error(c, errors.New("redis: connection refused"))
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("kitchen fire")
	})

	rec, env := serve(e, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", env.Error.Message)

	entries := logs.FilterMessage("http request failed").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "connection refused")

	rec, env = serve(e, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, env.Success)
}
