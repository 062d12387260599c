// ==============================================================================
// DONATION API MAIN - cmd/api/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"sadaqah/internal/directory"
	"sadaqah/internal/domain"
	"sadaqah/internal/events"
	"sadaqah/internal/fee"
	"sadaqah/internal/handler"
	"sadaqah/internal/middleware"
	"sadaqah/internal/notification"
	"sadaqah/internal/onboarding"
	"sadaqah/internal/payment"
	stripeprovider "sadaqah/internal/provider/stripe"
	"sadaqah/internal/repository/postgres"
	"sadaqah/internal/subscription"
	"sadaqah/internal/webhook"
	"sadaqah/pkg/cache"
	"sadaqah/pkg/config"
	"sadaqah/pkg/logger"
	"sadaqah/pkg/mailer"
	"sadaqah/pkg/validator"
)

const webhookPath = "/api/stripe/webhook"

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("sadaqah-api")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting donation API", map[string]interface{}{
		"port":     cfg.Server.Port,
		"currency": cfg.Stripe.Currency,
	})

	// Database connection
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	log.Info("Database connected", nil)

	// Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Redis connected", nil)

	publisher := newPublisher(cfg.RabbitMQ, log)
	defer publisher.Close()

	// Repositories
	accountRepo := postgres.NewAccountRepository(db)
	donationRepo := postgres.NewDonationRepository(db)
	eventRepo := postgres.NewWebhookEventRepository(db)

	sharedCache := cache.NewFromClient(redisClient, "sadaqah:")
	recipients := directory.NewCached(accountRepo, sharedCache, cfg.App.DirectoryCacheTTL, log)

	// Services
	stripeClient := stripeprovider.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.MaxNetworkRetries, log)
	resolver := onboarding.NewBaseURLResolver(cfg.App.BaseURL, cfg.App.FallbackBaseURL, cfg.App.TrustForwardedHost, log)

	manager := onboarding.NewManager(recipients, accountRepo, stripeClient, resolver, publisher, onboarding.Config{
		Country:      cfg.Stripe.AccountCountry,
		BusinessType: cfg.Stripe.BusinessType,
		AdminPath:    cfg.App.AdminPath,
		Retries:      cfg.Onboarding.ProviderRetry,
		RetryMaxWait: cfg.Onboarding.RetryMaxWait,
	}, log)

	calculator := fee.NewCalculator(cfg.Stripe.FeeRatePercent, cfg.Stripe.FixedFee)
	donations := payment.NewService(calculator, recipients, stripeClient, domain.Currency(cfg.Stripe.Currency), log)

	subscriptions := subscription.NewService(accountRepo, stripeClient, subscription.Plan{
		Name:             cfg.Stripe.PlanName,
		Currency:         domain.Currency(cfg.Stripe.Currency),
		AmountMinorUnits: cfg.Stripe.PlanAmount,
		Interval:         cfg.Stripe.PlanInterval,
	}, log)

	processor := webhook.NewProcessor(
		stripeprovider.NewCodec(cfg.Stripe.WebhookSecret),
		manager,
		donationRepo,
		eventRepo,
		webhook.Options{Guard: sharedCache, GuardTTL: cfg.Stripe.EventDedupeTTL, Sink: publisher},
		log,
	)

	notifier := notification.NewService(mailer.New(mailer.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		UseTLS:   cfg.Email.SMTPUseTLS,
	}), cfg.Email.AdminRecipient, log)

	// Handlers
	val := validator.New()
	paymentHandler := handler.NewPaymentHandler(donations, resolver, val, log)
	onboardingHandler := handler.NewOnboardingHandler(manager, val, log)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptions, val, log)
	webhookHandler := handler.NewWebhookHandler(processor, log)
	registrationHandler := handler.NewRegistrationHandler(notifier, val, log)
	systemHandler := handler.NewSystemHandler(map[string]handler.Pinger{
		"postgres": db,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	}, log)

	// Setup router
	r := mux.NewRouter()

	// Middleware
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.App.AllowedOrigins))
	r.Use(middleware.NewRateLimiter(redisClient, 150, time.Minute, log, webhookPath, "/health", "/ready").Limit)

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret, middleware.NewRedisTokenBlacklist(redisClient))
	idemMW := middleware.NewIdempotencyMiddleware(redisClient, 24*time.Hour, log)

	// Health check routes (no auth)
	r.HandleFunc("/health", systemHandler.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", systemHandler.Ready).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// Donor routes
	donate := api.NewRoute().Subrouter()
	donate.Use(idemMW.Replay)
	donate.HandleFunc("/create-payment-intent", paymentHandler.CreatePaymentIntent).Methods(http.MethodPost, http.MethodOptions)
	donate.HandleFunc("/checkout", paymentHandler.CreateCheckoutSession).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/mosquee/register", registrationHandler.Register).Methods(http.MethodPost, http.MethodOptions)

	// Provider-facing routes
	api.HandleFunc("/stripe/webhook", webhookHandler.Receive).Methods(http.MethodPost)
	api.HandleFunc("/stripe/refresh", onboardingHandler.Refresh).Methods(http.MethodGet)

	// Admin routes
	admin := api.PathPrefix("/stripe").Subrouter()
	admin.Use(authMW.Authenticate)
	admin.Use(authMW.RequireAdmin)
	admin.HandleFunc("/create-connected-account", onboardingHandler.CreateConnectedAccount).Methods(http.MethodPost)
	admin.HandleFunc("/create-platform-subscription", subscriptionHandler.CreatePlatformSubscription).Methods(http.MethodPost)

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Donation API started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down donation API...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Donation API forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}
	notifier.Wait()

	log.Info("Donation API stopped gracefully", nil)
}

type eventPublisher interface {
	PublishDonationSucceeded(ctx context.Context, d domain.DonationSucceeded) error
	PublishOnboardingUpdated(ctx context.Context, evt domain.OnboardingUpdated) error
	Close()
}

// newPublisher falls back to dropping events when the broker is absent or unreachable;
// donations and onboarding never block on it.
func newPublisher(cfg config.RabbitMQConfig, log logger.Logger) eventPublisher {
	if cfg.URL == "" {
		log.Warn("RABBITMQ_URL not set, domain events will not be published", nil)
		return events.Discard{Logger: log}
	}
	p, err := events.Dial(cfg.URL, cfg.Exchange, log)
	if err != nil {
		log.Error("Failed to connect to RabbitMQ, domain events will not be published", map[string]interface{}{
			"error": err.Error(),
		})
		return events.Discard{Logger: log}
	}
	return p
}
