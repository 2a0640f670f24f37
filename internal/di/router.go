package di

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/internal/middleware"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
	pkgmiddleware "github.com/prohmpiriya/healthcare-educate/pkg/middleware"
	"github.com/prohmpiriya/healthcare-educate/pkg/telemetry"
)

// Router builds the gin engine with every route
func (c *Container) Router() *gin.Engine {
	cfg := c.Config

	router := gin.New()
	// Client IPs key the rate limiter, so forwarded headers only count from known proxies.
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Get().Warn("Invalid trusted proxies, using remote address", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins)))

	router.GET("/health", c.HealthHandler.Health)
	router.GET("/ready", c.HealthHandler.Ready)

	rateLimit := middleware.RateLimitConfig{}
	if cfg.RateLimit.Enabled {
		rateLimit = middleware.DefaultRateLimitConfig()
		rateLimit.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rateLimit.BurstSize = cfg.RateLimit.BurstSize
		if c.Redis != nil {
			rateLimit.Redis = c.Redis
		}
	}
	limiter := middleware.RateLimiter(rateLimit)
	auth := middleware.JWTAuth(c.AuthService)

	idempotency := pkgmiddleware.IdempotencyConfig{
		TTL: cfg.Billing.IdempotencyTTL,
		Scope: func(ctx *gin.Context) string {
			id, _ := middleware.GetUserID(ctx)
			return strconv.FormatInt(id, 10)
		},
	}
	if c.Redis != nil {
		idempotency.Redis = c.Redis
	}
	idempotent := pkgmiddleware.IdempotencyMiddleware(idempotency)

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", limiter, c.AuthHandler.Register)
			authGroup.POST("/login", limiter, c.AuthHandler.Login)
			authGroup.POST("/refresh", limiter, c.AuthHandler.RefreshToken)
			authGroup.POST("/logout", auth, c.AuthHandler.Logout)
			authGroup.GET("/me", auth, c.AuthHandler.Me)
		}

		payment := api.Group("/payment", auth)
		{
			payment.POST("/checkout/session", idempotent, c.BillingHandler.CreateCheckoutSession)
			payment.POST("/portal/session", idempotent, c.BillingHandler.CreatePortalSession)
			payment.GET("/subscription/status", c.BillingHandler.GetSubscriptionStatus)
			payment.GET("/payments/history", c.BillingHandler.GetPaymentHistory)
		}

		api.GET("/premium/access", auth, middleware.RequireActiveSubscription(c.BillingService), c.BillingHandler.PremiumAccess)

		api.POST("/webhooks/stripe", c.WebhookHandler.HandleStripeWebhook)
	}

	return router
}
