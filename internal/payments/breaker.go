package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gourav-1711/jewellery-backend/internal/platform/observability"
)

// BreakerConfig tunes BreakerProvider.
type BreakerConfig struct {
	// Timeout bounds every gateway call.
	Timeout time.Duration
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
	// OnStateChange is notified on every breaker transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// BreakerProvider guards a Provider's network calls with a timeout and a circuit breaker.
// Signature checks and webhook parsing are local and pass straight through.
type BreakerProvider struct {
	Provider
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

func NewBreakerProvider(next Provider, cfg BreakerConfig) (*BreakerProvider, error) {
	if next == nil {
		return nil, errors.New("payments: breaker requires a provider")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	failures := cfg.Failures
	settings := gobreaker.Settings{
		Name:        "payments." + next.Name(),
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &BreakerProvider{
		Provider: next,
		timeout:  cfg.Timeout,
		cb:       gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// State exposes the breaker state for health reporting.
func (b *BreakerProvider) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	return b.call(ctx, "create_order", func(ctx context.Context) (GatewayOrder, error) {
		return b.Provider.CreateOrder(ctx, req)
	})
}

func (b *BreakerProvider) FetchOrder(ctx context.Context, gatewayOrderID string) (GatewayOrder, error) {
	return b.call(ctx, "fetch_order", func(ctx context.Context) (GatewayOrder, error) {
		return b.Provider.FetchOrder(ctx, gatewayOrderID)
	})
}

type callResult struct {
	order GatewayOrder
	err   error
}

func (b *BreakerProvider) call(ctx context.Context, op string, fn func(context.Context) (GatewayOrder, error)) (GatewayOrder, error) {
	ctx, end := observability.StartClientSpan(ctx, "payments."+b.Name()+"."+op,
		attribute.String("payments.provider", b.Name()))

	out, err := b.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		done := make(chan callResult, 1)
		go func() {
			order, err := fn(callCtx)
			done <- callResult{order: order, err: err}
		}()
		select {
		case res := <-done:
			return res.order, res.err
		case <-callCtx.Done():
			return GatewayOrder{}, fmt.Errorf("%w: %s %s: %v", ErrGatewayUnavailable, b.Name(), op, callCtx.Err())
		}
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s circuit open", ErrGatewayUnavailable, b.Name())
	}
	end(err)
	if err != nil {
		return GatewayOrder{}, err
	}
	return out.(GatewayOrder), nil
}
