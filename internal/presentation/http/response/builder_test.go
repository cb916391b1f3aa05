package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSuccessEnvelope(t *testing.T) {
	c, rec := newContext()
	c.Response().Header().Set(echo.HeaderXRequestID, "req-1")

	require.NoError(t, New(c).WithStatus(http.StatusCreated).WithData(map[string]int{"orders": 2}).WithMeta("total", 2).Build())

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"orders": float64(2)}, body["data"])
	assert.Equal(t, map[string]any{"total": float64(2), "requestId": "req-1"}, body["meta"])
	assert.NotContains(t, body, "error")
}

func TestErrorEnvelopeUsesKindStatus(t *testing.T) {
	c, rec := newContext()

	err := errorbank.Validation("Only 1 more item(s) allowed for this vendor.", errorbank.WithDetail("remaining", 1))
	require.NoError(t, New(c).WithStatus(http.StatusOK).WithError(err).Build())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, map[string]any{
		"kind":    "unprocessable_entity",
		"message": "Only 1 more item(s) allowed for this vendor.",
		"details": map[string]any{"remaining": float64(1)},
	}, body["error"])
	assert.Nil(t, c.Get(CauseKey))
}

func TestInternalErrorHidesCause(t *testing.T) {
	c, rec := newContext()
	cause := errors.New("pq: connection refused")

	require.NoError(t, Error(c, cause))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Equal(t, cause, c.Get(CauseKey))
}
