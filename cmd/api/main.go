package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gourav-1711/jewellery-backend/internal/di"
	"github.com/gourav-1711/jewellery-backend/internal/handlers"
	"github.com/gourav-1711/jewellery-backend/internal/platform/auth"
	"github.com/gourav-1711/jewellery-backend/internal/platform/config"
	"github.com/gourav-1711/jewellery-backend/internal/platform/idempotency"
	"github.com/gourav-1711/jewellery-backend/internal/platform/observability"
	"github.com/gourav-1711/jewellery-backend/internal/platform/secrets"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

const (
	firebaseVerifyTimeout = 5 * time.Second
	secretHealthReference = "secret://system/healthz?version=latest"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithDependencyChecks(secretManagerCheck(fetcher)),
	)
	if err != nil {
		logger.Fatal("failed to build dependency container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, "")

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
	)

	orderOpts := []handlers.OrderHandlerOption{
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithDeliveryOTPAuth(cfg.Orders.DeliveryOTPAuth),
		handlers.WithOrderReturnWindow(cfg.Orders.ReturnWindow),
	}
	adminOpts := []handlers.AdminOrderHandlerOption{
		handlers.WithAdminOrderReturnWindow(cfg.Orders.ReturnWindow),
	}
	if container.Images != nil {
		orderOpts = append(orderOpts, handlers.WithOrderImageSigner(container.Images))
		adminOpts = append(adminOpts, handlers.WithAdminOrderImageSigner(container.Images))
	}
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders, orderOpts...)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders, adminOpts...)
	internalHandlers := handlers.NewInternalOrderHandlers(container.Services.Orders)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthReporter(container.Health),
	)

	routerOpts := []handlers.Option{
		handlers.WithBasePath(cfg.Server.BasePath),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(container.Metrics.Handler()),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLoggerMiddleware(container.Metrics),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg); oidc != nil {
		routerOpts = append(routerOpts, handlers.WithInternalMiddlewares(oidc))
	}
	router := handlers.NewRouter(routerOpts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("jewellery api listening", zap.String("basePath", cfg.Server.BasePath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.ResolveSecret(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	keys := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, nil, nil)
	validator := auth.NewOIDCValidator(keys, nil)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

// newSecretFetcher runs before config is loaded, so it reads its settings straight from the
// environment map.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRETS_DEFAULT_PROJECT")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if path := lookup("API_SECRETS_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if creds := lookup("API_FIREBASE_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, config.SecretsConfig{DefaultProject: project}, opts...)
}

// requiredSecretNames lists config fields that must resolve before the server starts. Stripe
// secrets become mandatory only when a Stripe key is configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Payments.Razorpay.KeySecret",
		"Payments.Razorpay.WebhookSecret",
	}
	if strings.TrimSpace(env["API_PAYMENTS_STRIPE_API_KEY"]) != "" {
		required = append(required, "Payments.Stripe.APIKey", "Payments.Stripe.SigningSecret")
	}
	if strings.TrimSpace(env["API_CACHE_REDIS_PASSWORD"]) != "" {
		required = append(required, "Cache.RedisPassword")
	}
	return required
}
