package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultBasePath            = "/api"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultStorageDriver       = "firestore"
	defaultSignedURLTTL        = 15 * time.Minute
	defaultPaymentsTimeout     = 10 * time.Second
	defaultBreakerFailures     = 5
	defaultBreakerCooldown     = 30 * time.Second
	defaultCurrency            = "INR"
	defaultShippingFee         = 50
	defaultFreeShippingAbove   = 1000
	defaultGiftWrapFee         = 50
	defaultReservationTTL      = 30 * time.Minute
	defaultDeliveryOTPTTL      = 72 * time.Hour
	defaultReturnWindow        = 7 * 24 * time.Hour
	defaultEventsDriver        = "log"
	defaultOrderTopic          = "order-events"
	defaultNotificationTopic   = "notifications"
	defaultCacheDriver         = "memory"
	defaultProductTTL          = 5 * time.Minute
	defaultCacheMaxEntries     = 1000
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyDriver   = "memory"
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
)

// Delivery OTP endpoint authentication modes.
const (
	DeliveryOTPAuthNone  = "none"
	DeliveryOTPAuthUser  = "user"
	DeliveryOTPAuthStaff = "staff"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Payments    PaymentsConfig
	Orders      OrdersConfig
	Events      EventsConfig
	Cache       CacheConfig
	Idempotency IdempotencyConfig
	Security    SecurityConfig
	Secrets     SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	BasePath     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig selects the persistence driver and the image bucket.
type StorageConfig struct {
	Driver       string
	ImagesBucket string
	SignedURLTTL time.Duration
	SignerEmail  string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PaymentsConfig collects gateway credentials and call protection settings.
type PaymentsConfig struct {
	Razorpay        RazorpayConfig
	Stripe          StripeConfig
	CurrencyRoutes  map[string]string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// RazorpayConfig holds the Razorpay key pair and webhook secret.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// Enabled reports whether a key id was supplied.
func (c RazorpayConfig) Enabled() bool {
	return strings.TrimSpace(c.KeyID) != ""
}

// StripeConfig holds the optional Stripe credentials.
type StripeConfig struct {
	APIKey        string
	SigningSecret string
}

// OrdersConfig tunes the order workflow.
type OrdersConfig struct {
	Currency          string
	ShippingFee       int64
	FreeShippingAbove int64
	GiftWrapFee       int64
	ReserveStock      bool
	ReservationTTL    time.Duration
	DeliveryOTPTTL    time.Duration
	DeliveryOTPAuth   string
	ReturnWindow      time.Duration
}

// EventsConfig selects the order event and notification transport.
type EventsConfig struct {
	Driver            string
	PubSubProjectID   string
	OrderTopic        string
	NotificationTopic string
	KafkaBrokers      []string
}

// CacheConfig controls the product cache.
type CacheConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ProductTTL    time.Duration
	MaxEntries    int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
	Driver string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	DefaultProject string
	FallbackFile   string
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Payments.Razorpay.KeySecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			BasePath:     src.str("API_SERVER_BASE_PATH", defaultBasePath),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Storage: StorageConfig{
			Driver:       strings.ToLower(src.str("API_STORAGE_DRIVER", defaultStorageDriver)),
			ImagesBucket: src.str("API_STORAGE_IMAGES_BUCKET", ""),
			SignedURLTTL: src.duration("API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
			SignerEmail:  src.str("API_STORAGE_SIGNER_EMAIL", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Payments: PaymentsConfig{
			Razorpay: RazorpayConfig{
				KeyID:         src.str("API_PAYMENTS_RAZORPAY_KEY_ID", ""),
				KeySecret:     src.str("API_PAYMENTS_RAZORPAY_KEY_SECRET", ""),
				WebhookSecret: src.str("API_PAYMENTS_RAZORPAY_WEBHOOK_SECRET", ""),
			},
			Stripe: StripeConfig{
				APIKey:        src.str("API_PAYMENTS_STRIPE_API_KEY", ""),
				SigningSecret: src.str("API_PAYMENTS_STRIPE_SIGNING_SECRET", ""),
			},
			CurrencyRoutes:  src.pairs("API_PAYMENTS_CURRENCY_ROUTES"),
			Timeout:         src.duration("API_PAYMENTS_TIMEOUT", defaultPaymentsTimeout),
			BreakerFailures: src.integer("API_PAYMENTS_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown: src.duration("API_PAYMENTS_BREAKER_COOLDOWN", defaultBreakerCooldown),
		},
		Orders: OrdersConfig{
			Currency:          strings.ToUpper(src.str("API_ORDERS_CURRENCY", defaultCurrency)),
			ShippingFee:       int64(src.integer("API_ORDERS_SHIPPING_FEE", defaultShippingFee)),
			FreeShippingAbove: int64(src.integer("API_ORDERS_FREE_SHIPPING_ABOVE", defaultFreeShippingAbove)),
			GiftWrapFee:       int64(src.integer("API_ORDERS_GIFT_WRAP_FEE", defaultGiftWrapFee)),
			ReserveStock:      src.boolean("API_ORDERS_RESERVE_STOCK", false),
			ReservationTTL:    src.duration("API_ORDERS_RESERVATION_TTL", defaultReservationTTL),
			DeliveryOTPTTL:    src.duration("API_ORDERS_DELIVERY_OTP_TTL", defaultDeliveryOTPTTL),
			DeliveryOTPAuth:   strings.ToLower(src.str("API_ORDERS_DELIVERY_OTP_AUTH", "")),
			ReturnWindow:      src.duration("API_ORDERS_RETURN_WINDOW", defaultReturnWindow),
		},
		Events: EventsConfig{
			Driver:            strings.ToLower(src.str("API_EVENTS_DRIVER", defaultEventsDriver)),
			PubSubProjectID:   src.str("API_EVENTS_PUBSUB_PROJECT_ID", ""),
			OrderTopic:        src.str("API_EVENTS_ORDER_TOPIC", defaultOrderTopic),
			NotificationTopic: src.str("API_EVENTS_NOTIFICATION_TOPIC", defaultNotificationTopic),
			KafkaBrokers:      src.list("API_EVENTS_KAFKA_BROKERS"),
		},
		Cache: CacheConfig{
			Driver:        strings.ToLower(src.str("API_CACHE_DRIVER", defaultCacheDriver)),
			RedisAddr:     src.str("API_CACHE_REDIS_ADDR", ""),
			RedisPassword: src.str("API_CACHE_REDIS_PASSWORD", ""),
			RedisDB:       src.integer("API_CACHE_REDIS_DB", 0),
			ProductTTL:    src.duration("API_CACHE_PRODUCT_TTL", defaultProductTTL),
			MaxEntries:    src.integer("API_CACHE_MAX_ENTRIES", defaultCacheMaxEntries),
		},
		Idempotency: IdempotencyConfig{
			Header: src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Driver: strings.ToLower(src.str("API_IDEMPOTENCY_DRIVER", defaultIdempotencyDriver)),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  src.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: src.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  src.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Secrets: SecretsConfig{
			DefaultProject: src.str("API_SECRETS_DEFAULT_PROJECT", ""),
			FallbackFile:   src.str("API_SECRETS_FALLBACK_FILE", ""),
		},
	}
	if err := src.err(); err != nil {
		return Config{}, err
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Secrets.DefaultProject == "" {
		cfg.Secrets.DefaultProject = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolved, err := resolveSecretFields(ctx, options.secret, []secretField{
		{"Payments.Razorpay.KeySecret", &cfg.Payments.Razorpay.KeySecret},
		{"Payments.Razorpay.WebhookSecret", &cfg.Payments.Razorpay.WebhookSecret},
		{"Payments.Stripe.APIKey", &cfg.Payments.Stripe.APIKey},
		{"Payments.Stripe.SigningSecret", &cfg.Payments.Stripe.SigningSecret},
		{"Cache.RedisPassword", &cfg.Cache.RedisPassword},
	})
	if err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var fields []string
	require := func(ok bool, name string) {
		if !ok {
			fields = append(fields, name)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(strings.HasPrefix(cfg.Server.BasePath, "/"), "Server.BasePath")
	require(oneOf(cfg.Storage.Driver, "firestore", "memory"), "Storage.Driver")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	if cfg.Storage.Driver == "firestore" {
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	}
	require(cfg.Payments.Timeout > 0, "Payments.Timeout")
	require(cfg.Payments.BreakerFailures > 0, "Payments.BreakerFailures")
	require(len(cfg.Orders.Currency) == 3, "Orders.Currency")
	require(cfg.Orders.ShippingFee >= 0, "Orders.ShippingFee")
	require(cfg.Orders.GiftWrapFee >= 0, "Orders.GiftWrapFee")
	require(oneOf(cfg.Orders.DeliveryOTPAuth, DeliveryOTPAuthNone, DeliveryOTPAuthUser, DeliveryOTPAuthStaff), "Orders.DeliveryOTPAuth")
	require(cfg.Orders.DeliveryOTPTTL > 0, "Orders.DeliveryOTPTTL")
	if cfg.Orders.ReserveStock {
		require(cfg.Orders.ReservationTTL > 0, "Orders.ReservationTTL")
	}
	require(oneOf(cfg.Events.Driver, "pubsub", "kafka", "log"), "Events.Driver")
	switch cfg.Events.Driver {
	case "pubsub":
		require(cfg.Events.PubSubProjectID != "", "Events.PubSubProjectID")
	case "kafka":
		require(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
	}
	require(oneOf(cfg.Cache.Driver, "memory", "redis", "none"), "Cache.Driver")
	require(oneOf(cfg.Idempotency.Driver, "memory", "redis"), "Idempotency.Driver")
	if cfg.Cache.Driver == "redis" || cfg.Idempotency.Driver == "redis" {
		require(cfg.Cache.RedisAddr != "", "Cache.RedisAddr")
	}
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}
