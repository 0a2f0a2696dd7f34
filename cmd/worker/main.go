package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	logger, err := services.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL not set")
	}

	db, err := services.InitDB(databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			logger.Warn("Redis unavailable, balance cache invalidation disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	gateway := selectGateway(logger)
	emailService := services.NewEmailService()
	ledgerService := services.NewLedgerService(db, cache, logger)
	receiptService := services.NewReceiptService(db, emailService, logger)
	reconciler := services.NewReconcilerService(db, gateway, receiptService, ledgerService, logger)

	interval := services.EnvDuration("RECONCILE_INTERVAL", 5*time.Minute)
	logger.Info("Reconciliation worker started", zap.Duration("interval", interval))

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down worker")
		cancel()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once at startup so a restart doesn't delay overdue payments by
	// a full interval.
	runSweep(ctx, reconciler, logger)

	for {
		select {
		case <-ticker.C:
			runSweep(ctx, reconciler, logger)
		case <-ctx.Done():
			return
		}
	}
}

func runSweep(ctx context.Context, reconciler *services.ReconcilerService, logger *zap.Logger) {
	report, err := reconciler.Sweep(ctx)
	if err != nil {
		logger.Error("reconciliation sweep failed", zap.Error(err))
		return
	}

	if report.CheckedConfirmed == 0 && report.CheckedPending == 0 {
		logger.Debug("reconciliation sweep found nothing to resolve")
		return
	}

	logger.Info("reconciliation sweep finished",
		zap.Int("checked_confirmed", report.CheckedConfirmed),
		zap.Int("checked_pending", report.CheckedPending),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("errors", report.Errors))
}

func selectGateway(logger *zap.Logger) services.Gateway {
	timeout := services.EnvDuration("GATEWAY_TIMEOUT", 15*time.Second)
	switch name := services.EnvString("PAYMENT_GATEWAY", "stripe"); name {
	case "midtrans":
		return services.NewMidtransGateway(logger, timeout)
	case "stripe":
		return services.NewStripeGateway(logger)
	default:
		logger.Fatal("Unknown PAYMENT_GATEWAY", zap.String("value", name))
		return nil
	}
}
