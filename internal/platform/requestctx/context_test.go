package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerCarriesOrderID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	ctx = WithOrderID(ctx, "ORD-1")

	Logger(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["orderId"]; got != "ORD-1" {
		t.Fatalf("expected orderId field, got %v", got)
	}
}

func TestDefaultsWithoutValues(t *testing.T) {
	ctx := context.Background()
	if Logger(ctx) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	if TraceID(ctx) != "" || OrderID(ctx) != "" {
		t.Fatalf("expected empty ids")
	}
	ctx = WithTrace(ctx, TraceInfo{TraceID: "abc", Sampled: true})
	if TraceID(ctx) != "abc" {
		t.Fatalf("expected trace id")
	}
	if WithOrderID(ctx, "") != ctx {
		t.Fatalf("empty order id must not wrap context")
	}
}
