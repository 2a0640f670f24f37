package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/migrations"
	"github.com/prohmpiriya/healthcare-educate/pkg/config"
	"github.com/prohmpiriya/healthcare-educate/pkg/database"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
)

const usage = "usage: migrate [up|down|version]"

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "migrate",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		Database:       cfg.Database.DBName,
		SSLMode:        cfg.Database.SSLMode,
		MaxConns:       2,
		MinConns:       1,
		ConnectTimeout: 10 * time.Second,
		MaxRetries:     3,
		RetryInterval:  2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	switch command {
	case "up":
		err = db.Migrate(ctx, migrations.FS, migrations.Dir)
	case "down":
		err = db.MigrateDown(ctx, migrations.FS, migrations.Dir)
	case "version":
		var version int64
		version, err = db.MigrationVersion(ctx, migrations.FS, migrations.Dir)
		if err == nil {
			fmt.Println(version)
			return
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		appLog.Fatal("Migration failed", zap.String("command", command), zap.Error(err))
	}

	appLog.Info("Migration complete", zap.String("command", command))
}
