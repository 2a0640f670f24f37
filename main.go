package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/internal/di"
	"github.com/prohmpiriya/healthcare-educate/internal/gateway"
	"github.com/prohmpiriya/healthcare-educate/internal/metrics"
	"github.com/prohmpiriya/healthcare-educate/migrations"
	"github.com/prohmpiriya/healthcare-educate/pkg/config"
	"github.com/prohmpiriya/healthcare-educate/pkg/database"
	"github.com/prohmpiriya/healthcare-educate/pkg/kafka"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
	pkgredis "github.com/prohmpiriya/healthcare-educate/pkg/redis"
	"github.com/prohmpiriya/healthcare-educate/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting billing API", zap.String("version", cfg.App.Version), zap.String("environment", cfg.App.Environment))

	ctx := context.Background()

	// Initialize telemetry
	if cfg.OTel.Enabled {
		if _, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:        true,
			ServiceName:    cfg.OTel.ServiceName,
			ServiceVersion: cfg.App.Version,
			Environment:    cfg.App.Environment,
			CollectorAddr:  cfg.OTel.CollectorAddr,
			SampleRatio:    cfg.OTel.SampleRatio,
		}); err != nil {
			appLog.Warn("Telemetry disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = telemetry.Shutdown(shutdownCtx)
			}()
		}
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn("Failed to register metrics", zap.Error(err))
	}

	// Initialize database connection
	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		if cfg.IsProduction() {
			appLog.Fatal("Database connection failed", zap.Error(err))
		}
		appLog.Warn("Database connection failed, using in-memory repositories (data will not persist)", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		appLog.Info("Database connected", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.DBName))

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
				appLog.Fatal("Migration failed", zap.Error(err))
			}
		}
	}

	// Initialize Redis connection
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
		})
		if err != nil {
			appLog.Warn("Redis connection failed, event dedupe and idempotency keys disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			appLog.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	// Initialize Kafka producer
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:       cfg.Kafka.Brokers,
			ClientID:      cfg.Kafka.ClientID,
			MaxRetries:    3,
			RetryInterval: time.Second,
			RecordRetries: 5,
		})
		if err != nil {
			appLog.Warn("Kafka connection failed, subscription events will not be published", zap.Error(err))
			producer = nil
		} else {
			defer producer.Close()
			appLog.Info("Kafka producer connected", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	}

	// Initialize payment gateway
	var paymentGateway gateway.PaymentGateway
	switch cfg.Stripe.Gateway {
	case "stripe":
		paymentGateway, err = gateway.NewStripeGateway(&gateway.StripeGatewayConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Timeout:       cfg.Stripe.Timeout,
			MaxRetries:    cfg.Stripe.MaxRetries,
			APIURL:        cfg.Stripe.APIURL,
		})
		if err != nil {
			appLog.Fatal("Failed to create Stripe gateway", zap.Error(err))
		}
	default:
		paymentGateway = gateway.NewMockGateway(&gateway.MockGatewayConfig{WebhookSecret: cfg.Stripe.WebhookSecret})
	}
	appLog.Info("Payment gateway ready", zap.String("gateway", paymentGateway.Name()))

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		Config:         cfg,
		DB:             db,
		Redis:          redisClient,
		Producer:       producer,
		PaymentGateway: paymentGateway,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := container.Router()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		appLog.Info("Billing API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
