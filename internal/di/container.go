package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/notifications"
	"github.com/gourav-1711/jewellery-backend/internal/payments"
	"github.com/gourav-1711/jewellery-backend/internal/platform/cache"
	"github.com/gourav-1711/jewellery-backend/internal/platform/config"
	pfirestore "github.com/gourav-1711/jewellery-backend/internal/platform/firestore"
	"github.com/gourav-1711/jewellery-backend/internal/platform/idempotency"
	"github.com/gourav-1711/jewellery-backend/internal/platform/messaging"
	"github.com/gourav-1711/jewellery-backend/internal/platform/observability"
	"github.com/gourav-1711/jewellery-backend/internal/platform/storage"
	"github.com/gourav-1711/jewellery-backend/internal/platform/textutil"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
	"github.com/gourav-1711/jewellery-backend/internal/repositories/cached"
	firestoreRepo "github.com/gourav-1711/jewellery-backend/internal/repositories/firestore"
	"github.com/gourav-1711/jewellery-backend/internal/repositories/memory"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

const (
	productCachePrefix = "jewellery:products:"
	idempotencyPrefix  = "jewellery:idem:"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders services.OrderService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Repositories repositories.Registry
	Services     Services
	Payments     *payments.Manager
	Idempotency  idempotency.Store
	Health       repositories.HealthRepository
	// Images is nil when no bucket or signing key is configured; handlers then return stored paths.
	Images *storage.ImageSigner

	checks  []repositories.DependencyCheck
	closers []func(context.Context) error
}

// Option customises NewContainer, mostly for tests.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	registry  repositories.Registry
	publisher messaging.Publisher
	providers []payments.Provider
	checks    []repositories.DependencyCheck
	clock     func() time.Time
}

// WithLogger sets the base logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics shares a metrics registry with the caller.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithRegistry bypasses the configured storage driver.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithPublisher replaces the configured event transport for both order events and notifications.
func WithPublisher(pub messaging.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// WithPaymentProviders replaces the configured gateways. Providers are still breaker-wrapped.
func WithPaymentProviders(providers ...payments.Provider) Option {
	return func(o *options) { o.providers = append(o.providers, providers...) }
}

// WithDependencyChecks adds readiness probes for dependencies owned by the caller.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *options) { o.checks = append(o.checks, checks...) }
}

// WithClock injects the order service clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies from configuration. On failure every
// resource opened so far is released.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics()
	}

	c = &Container{Config: cfg, Logger: o.logger, Metrics: o.metrics}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
			c = nil
		}
	}()

	if err = c.buildRegistry(ctx, o.registry); err != nil {
		return c, err
	}

	var redisClient *redis.Client
	if cfg.Cache.Driver == "redis" || cfg.Idempotency.Driver == "redis" {
		redisClient, err = cache.Dial(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return c, fmt.Errorf("connect redis: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return redisClient.Close() })
		c.checks = append(c.checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	products, err := c.buildProductCache(redisClient)
	if err != nil {
		return c, err
	}

	if err = c.buildIdempotency(redisClient); err != nil {
		return c, err
	}

	if err = c.buildPayments(o.providers); err != nil {
		return c, err
	}

	orderPub, notifyPub, err := c.buildPublishers(ctx, o.publisher)
	if err != nil {
		return c, err
	}
	events, err := messaging.NewOrderEventPublisher(orderPub)
	if err != nil {
		return c, fmt.Errorf("build order event publisher: %w", err)
	}
	notifier, err := notifications.NewDispatcher(notifyPub)
	if err != nil {
		return c, fmt.Errorf("build notification dispatcher: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       c.Repositories.Orders(),
		Products:     c.Repositories.Products(),
		Carts:        c.Repositories.Carts(),
		Counters:     c.Repositories.Counters(),
		Gateways:     c.Payments,
		Notifier:     notifier,
		Events:       events,
		ProductCache: products,
		Metrics:      c.Metrics,
		Sanitizer:    textutil.NewSanitizer(),
		Pricing: domain.PricingRules{
			ShippingFee:       cfg.Orders.ShippingFee,
			FreeShippingAbove: cfg.Orders.FreeShippingAbove,
			GiftWrapFee:       cfg.Orders.GiftWrapFee,
		},
		Currency:       cfg.Orders.Currency,
		ReserveStock:   cfg.Orders.ReserveStock,
		ReservationTTL: cfg.Orders.ReservationTTL,
		DeliveryOTPTTL: cfg.Orders.DeliveryOTPTTL,
		ReturnWindow:   cfg.Orders.ReturnWindow,
		Clock:          o.clock,
		Logger:         observability.EventLogger(c.Logger.Named("orders")),
	})
	if err != nil {
		return c, fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orders

	if err = c.buildImageSigner(); err != nil {
		return c, err
	}

	c.checks = append(c.checks, o.checks...)
	c.Health, err = repositories.NewDependencyHealthRepository(c.checks)
	if err != nil {
		return c, fmt.Errorf("build health repository: %w", err)
	}
	return c, nil
}

func (c *Container) buildRegistry(ctx context.Context, reg repositories.Registry) error {
	if reg != nil {
		c.Repositories = reg
		c.closers = append(c.closers, reg.Close)
		c.checks = append(c.checks, storageCheck(reg))
		return nil
	}

	switch c.Config.Storage.Driver {
	case "memory":
		c.Logger.Warn("using in-memory storage; orders are lost on restart")
		store := memory.NewStore()
		c.Repositories = store
		c.checks = append(c.checks, storageCheck(store))
		return nil
	case "firestore", "":
		provider := pfirestore.NewProvider(c.Config.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return fmt.Errorf("initialise firestore client: %w", err)
		}
		registry, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return fmt.Errorf("build firestore registry: %w", err)
		}
		c.Repositories = registry
		c.closers = append(c.closers, registry.Close)
		c.checks = append(c.checks, repositories.DependencyCheck{Name: "firestore", Check: provider.Ping})
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", c.Config.Storage.Driver)
	}
}

func storageCheck(reg repositories.Registry) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name: "storage",
		Check: func(ctx context.Context) error {
			_, err := reg.Orders().List(ctx, repositories.OrderListFilter{Page: 1, Limit: 1})
			return err
		},
	}
}

func (c *Container) buildProductCache(client *redis.Client) (*cached.ProductRepository, error) {
	var store cache.Cache
	switch c.Config.Cache.Driver {
	case "redis":
		rc, err := cache.NewRedisCache(client, productCachePrefix)
		if err != nil {
			return nil, fmt.Errorf("build product cache: %w", err)
		}
		store = rc
	case "none":
		store = cache.Noop{}
	default:
		store = cache.NewMemoryCache(c.Config.Cache.MaxEntries)
	}

	logger := c.Logger.Named("cache")
	products, err := cached.NewProductRepository(c.Repositories.Products(), store, c.Config.Cache.ProductTTL,
		func(ctx context.Context, op string, err error) {
			logger.Warn("product cache error", zap.String("op", op), zap.Error(err))
		})
	if err != nil {
		return nil, fmt.Errorf("build cached product repository: %w", err)
	}
	return products, nil
}

func (c *Container) buildIdempotency(client *redis.Client) error {
	if c.Config.Idempotency.Driver != "redis" {
		c.Idempotency = idempotency.NewMemoryStore()
		return nil
	}
	store, err := idempotency.NewRedisStore(client, idempotencyPrefix)
	if err != nil {
		return fmt.Errorf("build idempotency store: %w", err)
	}
	c.Idempotency = store
	return nil
}

func (c *Container) buildPayments(overrides []payments.Provider) error {
	cfg := c.Config.Payments
	providers := overrides
	if len(providers) == 0 {
		if cfg.Razorpay.Enabled() {
			rp, err := payments.NewRazorpayProvider(payments.RazorpayConfig{
				KeyID:         cfg.Razorpay.KeyID,
				KeySecret:     cfg.Razorpay.KeySecret,
				WebhookSecret: cfg.Razorpay.WebhookSecret,
			})
			if err != nil {
				return fmt.Errorf("build razorpay provider: %w", err)
			}
			providers = append(providers, rp)
		}
		if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
			sp, err := payments.NewStripeProvider(payments.StripeProviderConfig{
				APIKey:        cfg.Stripe.APIKey,
				SigningSecret: cfg.Stripe.SigningSecret,
				Logger:        observability.EventLogger(c.Logger.Named("stripe")),
			})
			if err != nil {
				return fmt.Errorf("build stripe provider: %w", err)
			}
			providers = append(providers, sp)
		}
	}
	if len(providers) == 0 {
		return errors.New("no payment gateway configured")
	}

	logger := c.Logger.Named("payments")
	guarded := make([]payments.Provider, 0, len(providers))
	breakers := make([]*payments.BreakerProvider, 0, len(providers))
	for _, p := range providers {
		bp, err := payments.NewBreakerProvider(p, payments.BreakerConfig{
			Timeout:  cfg.Timeout,
			Failures: uint32(cfg.BreakerFailures),
			Cooldown: cfg.BreakerCooldown,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("payment breaker state change",
					zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		if err != nil {
			return fmt.Errorf("guard %s provider: %w", p.Name(), err)
		}
		guarded = append(guarded, bp)
		breakers = append(breakers, bp)
	}

	manager, err := payments.NewManager(guarded, payments.WithCurrencyRoutes(cfg.CurrencyRoutes))
	if err != nil {
		return fmt.Errorf("build payment manager: %w", err)
	}
	c.Payments = manager
	c.checks = append(c.checks, repositories.DependencyCheck{
		Name: "payments",
		Check: func(context.Context) error {
			for _, bp := range breakers {
				if bp.State() == gobreaker.StateOpen {
					return fmt.Errorf("%s circuit open", bp.Name())
				}
			}
			return nil
		},
	})
	return nil
}

func (c *Container) buildPublishers(ctx context.Context, override messaging.Publisher) (messaging.Publisher, messaging.Publisher, error) {
	if override != nil {
		return override, override, nil
	}
	events := c.Config.Events
	logger := c.Logger.Named("events")

	switch events.Driver {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, events.PubSubProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("connect pubsub: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		orderPub, err := messaging.NewPubSubPublisher(client.Topic(events.OrderTopic))
		if err != nil {
			return nil, nil, err
		}
		notifyPub, err := messaging.NewPubSubPublisher(client.Topic(events.NotificationTopic))
		if err != nil {
			return nil, nil, err
		}
		c.addPublisherClosers(orderPub, notifyPub)
		return orderPub, notifyPub, nil
	case "kafka":
		orderPub, err := messaging.NewKafkaPublisher(messaging.KafkaConfig{Brokers: events.KafkaBrokers, Topic: events.OrderTopic, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("build kafka order publisher: %w", err)
		}
		c.addPublisherClosers(orderPub)
		notifyPub, err := messaging.NewKafkaPublisher(messaging.KafkaConfig{Brokers: events.KafkaBrokers, Topic: events.NotificationTopic, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("build kafka notification publisher: %w", err)
		}
		c.addPublisherClosers(notifyPub)
		return orderPub, notifyPub, nil
	default:
		return messaging.NewLogPublisher(logger, events.OrderTopic), messaging.NewLogPublisher(logger, events.NotificationTopic), nil
	}
}

// addPublisherClosers registers publishers ahead of their client so topics flush before the
// client goes away.
func (c *Container) addPublisherClosers(pubs ...messaging.Publisher) {
	for _, p := range pubs {
		pub := p
		c.closers = append(c.closers, func(context.Context) error { return pub.Close() })
	}
}

func (c *Container) buildImageSigner() error {
	bucket := strings.TrimSpace(c.Config.Storage.ImagesBucket)
	if bucket == "" {
		return nil
	}
	keyFile := strings.TrimSpace(c.Config.Firebase.CredentialsFile)
	if keyFile == "" {
		c.Logger.Warn("images bucket set without a service account key; image paths are returned unsigned",
			zap.String("bucket", bucket))
		return nil
	}
	signer, err := storage.NewKeySignerFromFile(keyFile, c.Config.Storage.SignerEmail)
	if err != nil {
		return fmt.Errorf("load image signer key: %w", err)
	}
	images, err := storage.NewImageSigner(bucket, signer, storage.WithTTL(c.Config.Storage.SignedURLTTL))
	if err != nil {
		return fmt.Errorf("build image signer: %w", err)
	}
	c.Images = images
	return nil
}

// Close releases resources in reverse order of acquisition and returns the joined errors.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
