// Package requestctx carries per-request values (logger, trace, order correlation) through context.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/gourav-1711/jewellery-backend/internal/platform/requestctx/logger"
	traceContextKey  contextKey = "github.com/gourav-1711/jewellery-backend/internal/platform/requestctx/trace"
	orderContextKey  contextKey = "github.com/gourav-1711/jewellery-backend/internal/platform/requestctx/order"
)

var noopLogger = zap.NewNop()

// TraceInfo is the trace metadata extracted from the inbound request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger returns the request logger, enriched with the order id when one was recorded.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	logger, ok := ctx.Value(loggerContextKey).(*zap.Logger)
	if !ok || logger == nil {
		logger = noopLogger
	}
	if orderID := OrderID(ctx); orderID != "" {
		logger = logger.With(zap.String("orderId", orderID))
	}
	return logger
}

// NoopLogger exposes the shared no-op logger.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores trace metadata.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace returns the trace metadata when present.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID returns the trace identifier or the empty string.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithOrderID records the public order id the request operates on.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if orderID == "" {
		return ctx
	}
	return context.WithValue(ctx, orderContextKey, orderID)
}

// OrderID returns the recorded order id.
func OrderID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(orderContextKey).(string)
	return id
}
