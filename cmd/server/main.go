package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/toivyb/estatecore-backend-new-sub002/internal/handlers"
	"github.com/toivyb/estatecore-backend-new-sub002/internal/middleware"
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

	// Run auto-migration
	if err := services.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Redis backs the dedup lock and the balance cache; both degrade
	// gracefully without it.
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			logger.Warn("Redis unavailable, dedup lock and balance cache disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	} else {
		logger.Warn("REDIS_URL not set, dedup lock and balance cache disabled")
	}

	gateway := selectGateway(logger)

	// Initialize services
	emailService := services.NewEmailService()
	feePolicy := services.NewFeePolicyFromEnv()
	paymentService := services.NewPaymentService(db, cache, gateway, feePolicy, logger)
	ledgerService := services.NewLedgerService(db, cache, logger)
	receiptService := services.NewReceiptService(db, emailService, logger)
	reconcilerService := services.NewReconcilerService(db, gateway, receiptService, ledgerService, logger)
	queryService := services.NewPaymentQueryService(db)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Middleware
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(
		paymentService, reconcilerService, receiptService, ledgerService, queryService, logger)
	chargeHandler := handlers.NewChargeHandler(ledgerService, logger)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	// Payment lifecycle
	e.POST("/payments/create-payment-intent", paymentHandler.CreatePaymentIntent)
	e.POST("/payments/:id/confirm", paymentHandler.ConfirmPayment)
	e.POST("/payments/:id/cancel", paymentHandler.CancelPayment)
	e.POST("/payments/webhook", paymentHandler.Webhook)

	// Queries and receipts
	e.GET("/payments", paymentHandler.ListPayments)
	e.GET("/payments/:id", paymentHandler.GetPayment)
	e.GET("/payments/:id/receipt", paymentHandler.GetReceipt)
	e.GET("/payments/:id/receipt/pdf", paymentHandler.GetReceiptPDF)
	e.POST("/payments/:id/receipt/email", paymentHandler.EmailReceipt)
	e.GET("/tenants/:id/balance", paymentHandler.GetBalance)
	e.GET("/tenants/:id/charges", chargeHandler.ListCharges)

	// Admin surface
	admin := e.Group("/admin", middleware.RequireAdmin())
	admin.POST("/payments/:id/mark-paid", paymentHandler.MarkPaid)
	admin.POST("/payments/:id/refund", paymentHandler.RefundPayment)
	admin.POST("/charges", chargeHandler.CreateCharge)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info("Server starting", zap.String("port", port))
	e.Logger.Fatal(e.Start(":" + port))
}

// selectGateway picks the payment gateway from PAYMENT_GATEWAY. Stripe is
// the default; midtrans is available for deployments in its markets.
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
