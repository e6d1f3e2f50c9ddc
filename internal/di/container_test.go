package di

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/payments"
	"github.com/gourav-1711/jewellery-backend/internal/platform/config"
	"github.com/gourav-1711/jewellery-backend/internal/platform/idempotency"
	"github.com/gourav-1711/jewellery-backend/internal/repositories/memory"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

func testConfig() config.Config {
	return config.Config{
		Storage:  config.StorageConfig{Driver: "memory"},
		Firebase: config.FirebaseConfig{ProjectID: "demo"},
		Payments: config.PaymentsConfig{
			Razorpay:        config.RazorpayConfig{KeyID: "rzp_test", KeySecret: "secret", WebhookSecret: "hook"},
			Timeout:         time.Second,
			BreakerFailures: 3,
			BreakerCooldown: time.Second,
		},
		Orders: config.OrdersConfig{
			Currency:       "INR",
			ShippingFee:    50,
			GiftWrapFee:    50,
			DeliveryOTPTTL: time.Hour,
			ReturnWindow:   7 * 24 * time.Hour,
		},
		Events:      config.EventsConfig{Driver: "log", OrderTopic: "order-events", NotificationTopic: "notifications"},
		Cache:       config.CacheConfig{Driver: "memory", MaxEntries: 10, ProductTTL: time.Minute},
		Idempotency: config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour, Driver: "memory"},
	}
}

func TestNewContainerMemoryStack(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.NotNil(t, c.Services.Orders)
	assert.Nil(t, c.Images)
	assert.IsType(t, &idempotency.MemoryStore{}, c.Idempotency)

	provider, err := c.Payments.ForCurrency("INR")
	require.NoError(t, err)
	assert.Equal(t, payments.ProviderRazorpay, provider.Name())

	report, err := c.Health.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Contains(t, report.Checks, "storage")
	assert.Contains(t, report.Checks, "payments")
}

func TestCheckoutSnapshotsCurrentCataloguePrice(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	store, ok := c.Repositories.(*memory.Store)
	require.True(t, ok)
	ring := domain.Product{
		ID:       "ring-1",
		Name:     "Rose Gold Ring",
		Price:    600,
		Active:   true,
		Variants: []domain.ProductVariant{{ID: "rose", Stock: 10}},
	}
	store.PutProduct(ring)

	checkout := func() services.Order {
		res, err := c.Services.Orders.CreateOrder(ctx, services.CreateOrderCommand{
			UserID:       "user-1",
			PurchaseType: domain.PurchaseTypeDirect,
			Items:        []services.OrderItemInput{{ProductID: "ring-1", ColorID: "rose", Quantity: 1}},
			ShippingAddress: services.Address{
				FullName: "Asha Rao",
				Phone:    "9000000001",
				Street:   "12 MG Road",
				City:     "Jaipur",
				State:    "Rajasthan",
				Pincode:  "302001",
			},
		})
		require.NoError(t, err)
		order, err := c.Repositories.Orders().FindByOrderID(ctx, res.OrderID)
		require.NoError(t, err)
		return order
	}

	first := checkout()
	require.Len(t, first.Items, 1)
	assert.Equal(t, int64(600), first.Items[0].PriceAtPurchase)

	ring.Price = 750
	ring.Name = "Rose Gold Ring (new setting)"
	store.PutProduct(ring)

	second := checkout()
	require.Len(t, second.Items, 1)
	assert.Equal(t, int64(750), second.Items[0].PriceAtPurchase)
	assert.Equal(t, "Rose Gold Ring (new setting)", second.Items[0].Name)
}

func TestNewContainerRedisStack(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Cache.Driver = "redis"
	cfg.Cache.RedisAddr = mr.Addr()
	cfg.Idempotency.Driver = "redis"

	ctx := context.Background()
	c, err := NewContainer(ctx, cfg)
	require.NoError(t, err)

	assert.IsType(t, &idempotency.RedisStore{}, c.Idempotency)
	report, err := c.Health.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Checks["redis"].Status)

	require.NoError(t, c.Close(ctx))
	assert.NoError(t, c.Close(ctx), "second close is a no-op")
}

func TestNewContainerRequiresGateway(t *testing.T) {
	cfg := testConfig()
	cfg.Payments.Razorpay = config.RazorpayConfig{}

	_, err := NewContainer(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no payment gateway")
}

func TestNewContainerUnknownStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "postgres"

	_, err := NewContainer(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown storage driver")
}
