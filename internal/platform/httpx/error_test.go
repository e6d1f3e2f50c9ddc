package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gourav-1711/jewellery-backend/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	err := NewError("order_not_found", "order not\nfound", http.StatusNotFound).
		WithRequestID("req-1").
		WithDetails(map[string]any{"success": true, "orderId": "ORD-1"})
	WriteError(ctx, rec, err)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "order_not_found", body["error"])
	assert.Equal(t, "order not found", body["message"])
	assert.Equal(t, float64(404), body["status"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "trace-1", body["trace_id"])
	assert.Equal(t, "ORD-1", body["orderId"])
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, NewError("x", "y", 0).Status)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		OrderID string `json:"orderId"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"orderId":"ORD-1"}`))
	var got payload
	require.NoError(t, DecodeJSON(req, &got, 0))
	assert.Equal(t, "ORD-1", got.OrderID)

	cases := map[string]string{
		"unknown field": `{"orderId":"a","extra":1}`,
		"empty":         ``,
		"trailing":      `{"orderId":"a"}{"orderId":"b"}`,
		"malformed":     `{"orderId":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			err := DecodeJSON(req, &payload{}, 0)
			assert.True(t, errors.Is(err, ErrInvalidBody), "got %v", err)
		})
	}
}
