package di

import (
	"time"

	"github.com/prohmpiriya/healthcare-educate/internal/gateway"
	"github.com/prohmpiriya/healthcare-educate/internal/handler"
	"github.com/prohmpiriya/healthcare-educate/internal/repository"
	"github.com/prohmpiriya/healthcare-educate/internal/service"
	"github.com/prohmpiriya/healthcare-educate/pkg/config"
	"github.com/prohmpiriya/healthcare-educate/pkg/database"
	"github.com/prohmpiriya/healthcare-educate/pkg/kafka"
	"github.com/prohmpiriya/healthcare-educate/pkg/redis"
)

// Container holds all dependencies of the API
type Container struct {
	Config *config.Config

	// Infrastructure, each optional
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer

	// Gateways
	PaymentGateway gateway.PaymentGateway

	// Repositories
	UserRepo         repository.UserRepository
	SubscriptionRepo repository.SubscriptionRepository
	PaymentRepo      repository.PaymentRepository

	// Services
	AuthService    service.AuthService
	BillingService service.BillingService
	WebhookService service.WebhookService

	// Handlers
	HealthHandler  *handler.HealthHandler
	AuthHandler    *handler.AuthHandler
	BillingHandler *handler.BillingHandler
	WebhookHandler *handler.WebhookHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config         *config.Config
	DB             *database.PostgresDB
	Redis          *redis.Client
	Producer       *kafka.Producer
	PaymentGateway gateway.PaymentGateway
}

// NewContainer wires repositories, services and handlers. Without a database
// the in-memory repositories are used.
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		Config:         cfg.Config,
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		Producer:       cfg.Producer,
		PaymentGateway: cfg.PaymentGateway,
	}
	appCfg := cfg.Config

	if c.DB != nil {
		c.UserRepo = repository.NewPostgresUserRepository(c.DB)
		c.SubscriptionRepo = repository.NewPostgresSubscriptionRepository(c.DB)
		c.PaymentRepo = repository.NewPostgresPaymentRepository(c.DB)
	} else {
		billing := repository.NewMemoryBillingRepository()
		c.UserRepo = repository.NewMemoryUserRepository()
		c.SubscriptionRepo = billing
		c.PaymentRepo = billing
	}

	var ledger service.EventLedger
	if c.Redis != nil {
		ledger = service.NewRedisEventLedger(c.Redis, appCfg.Billing.EventLedgerTTL)
	}

	var publisher service.EventPublisher
	if c.Producer != nil {
		publisher = service.NewKafkaEventPublisher(c.Producer, &service.KafkaEventPublisherConfig{
			SubscriptionTopic: appCfg.Kafka.SubscriptionTopic,
			DeadLetterTopic:   appCfg.Kafka.DeadLetterTopic,
			ServiceName:       appCfg.App.Name,
		})
	}

	c.AuthService = service.NewAuthService(c.UserRepo, &service.AuthServiceConfig{
		AccessSecret:    appCfg.JWT.AccessSecret,
		RefreshSecret:   appCfg.JWT.RefreshSecret,
		AccessTokenTTL:  appCfg.JWT.AccessTokenTTL,
		RefreshTokenTTL: appCfg.JWT.RefreshTokenTTL,
		Issuer:          appCfg.JWT.Issuer,
		BcryptCost:      appCfg.JWT.BcryptCost,
	})

	c.BillingService = service.NewBillingService(c.SubscriptionRepo, c.PaymentRepo, c.PaymentGateway, &service.BillingServiceConfig{
		FrontendURL:         appCfg.App.FrontendURL,
		AllowedPriceIDs:     appCfg.Stripe.AllowedPriceIDs,
		TrialGrantsAccess:   appCfg.Billing.TrialGrantsAccess,
		PaymentHistoryLimit: appCfg.Billing.PaymentHistoryLimit,
		CheckoutExpiry:      24 * time.Hour,
	})

	c.WebhookService = service.NewWebhookService(
		c.PaymentGateway,
		c.UserRepo,
		c.SubscriptionRepo,
		c.PaymentRepo,
		ledger,
		publisher,
		&service.WebhookServiceConfig{
			ProcessTimeout: appCfg.Billing.WebhookProcessTimeout,
			GatewayTimeout: appCfg.Stripe.Timeout,
		},
	)

	checks := map[string]handler.HealthChecker{}
	if c.DB != nil {
		checks["database"] = c.DB
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(appCfg.App.Name, appCfg.App.Version, checks)

	c.AuthHandler = handler.NewAuthHandler(c.AuthService, handler.CookieConfig{
		Name:   appCfg.Cookie.Name,
		Domain: appCfg.Cookie.Domain,
		Path:   appCfg.Cookie.Path,
		Secure: appCfg.IsProduction(),
		MaxAge: appCfg.JWT.RefreshTokenTTL,
	})
	c.BillingHandler = handler.NewBillingHandler(c.BillingService)
	c.WebhookHandler = handler.NewWebhookHandler(c.WebhookService)

	return c
}
