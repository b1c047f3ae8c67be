package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mindgym/api/config"
	"github.com/mindgym/api/internal/api"
	"github.com/mindgym/api/internal/database"
	"github.com/mindgym/api/internal/services/billing"
	"github.com/mindgym/api/internal/services/reconciler"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	gin.SetMode(cfg.GinMode)

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	log.Println("Connected to database successfully")

	ctx := context.Background()

	// Run migrations
	if err := db.Migrate(ctx, "migrations"); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	log.Println("Migrations applied successfully")

	// Structured logger for background services
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.TimeKey = "timestamp"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := logConfig.Build()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	// Start entitlement reconciler
	reconcilerService := reconciler.NewService(db, reconciler.Config{
		Interval:            cfg.ReconcileInterval,
		PastDueKeepsPremium: !cfg.PremiumRevokeOnPaymentFailure,
		BatchLimit:          reconciler.DefaultConfig().BatchLimit,
	}, logger.Named("reconciler"))
	reconcilerService.Start(ctx)
	defer reconcilerService.Stop()

	provider := billing.NewStripeProvider(cfg.StripeSecretKey)

	handlers := api.NewHandlers(db, cfg, provider)
	r := gin.Default()
	handlers.RegisterRoutes(r)

	// Start server
	log.Printf("Starting server on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
