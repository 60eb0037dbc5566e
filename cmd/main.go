package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "GigEscrow/docs"
	"GigEscrow/internal/cache"
	"GigEscrow/internal/config"
	"GigEscrow/internal/database"
	"GigEscrow/internal/events"
	"GigEscrow/internal/gateway"
	"GigEscrow/internal/handlers"
	"GigEscrow/internal/jobs"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/repository"
	"GigEscrow/internal/routes"
	"GigEscrow/internal/services"
)

// @title GigEscrow Payments API
// @version 1.0
// @description Escrow-backed payments for the freelance marketplace.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Initialize("development")
		logger.Log.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Initialize(cfg.Env)
	log := logger.Log
	defer log.Sync()

	db, err := database.Connect(cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.Migrate(db, log); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := buildGateways(cfg)
	if err != nil {
		log.Fatal("Failed to configure payment gateway", zap.Error(err))
	}
	log.Info("Payment gateway ready", zap.String("gateway", string(registry.Default().Name())))

	store := repository.NewGormStore(db)
	fees := services.FeePolicy{
		PlatformPercent:         cfg.PlatformFeePercent,
		GatewayFlatFee:          cfg.GatewayFlatFee,
		WithdrawalPercent:       cfg.WithdrawalFeePercent,
		EscrowCommissionPercent: cfg.EscrowCommission,
		Scale:                   cfg.CurrencyScale,
	}

	notifications := services.NewNotificationService(store, log)
	email := services.NewEmailService(cfg.ResendAPIKey, cfg.FromEmail, cfg.OpsEmail, log)

	var publisher services.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewProducer(cfg.KafkaBrokers, log)
		if err != nil {
			log.Fatal("Failed to connect to Kafka", zap.Error(err))
		}
		defer producer.Close()
		publisher = producer
	} else {
		log.Warn("KAFKA_BROKERS is empty, domain events will not be published")
	}

	var locker services.Locker
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		locker = cache.NewLocker(rdb, "gigescrow:lock:", log)
	} else {
		log.Warn("REDIS_ADDR is empty, webhook locks are local to this process")
	}

	var proofs services.ProofStorage
	if cfg.CloudinaryCloudName != "" {
		cld, err := services.NewCloudinaryService(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.ProofFolder)
		if err != nil {
			log.Fatal("Failed to initialize Cloudinary service", zap.Error(err))
		}
		proofs = cld
		log.Info("Cloudinary service initialized successfully")
	}

	dispatch := services.NewDispatcher(notifications, publisher, email, cfg.KafkaTopicPrefix, log)
	orders := services.NewHTTPOrderClient(cfg.OrderServiceURL, cfg.OrderServiceTimeout)

	escrow := services.NewEscrowManager(store, fees, cfg.AutoReleaseAfter, dispatch, log)
	webhooks := services.NewWebhookProcessor(store, registry, escrow, orders, locker, cfg.WebhookLockTTL, dispatch, log)
	payments := services.NewPaymentService(store, registry, orders, fees, services.PaymentServiceConfig{
		Currency:       cfg.Currency,
		PaymentTTL:     cfg.PaymentTTL,
		GatewayTimeout: cfg.GatewayTimeout,
		CallbackURL:    cfg.GatewayCallbackURL,
	}, webhooks, dispatch, log)
	withdrawals := services.NewWithdrawalService(store, escrow, fees, dispatch, log)
	refunds := services.NewRefundService(store, registry, escrow, cfg.GatewayTimeout, dispatch, log)

	scheduler := jobs.NewScheduler(payments, escrow, cfg.SweepBatchSize, log)
	if err := scheduler.Register(cfg.ExpirySweepSpec, cfg.ReleaseSweepSpec); err != nil {
		log.Fatal("Invalid sweep schedule", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		BodyLimit:    10 * 1024 * 1024,
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.RequestLogger())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "GigEscrow payments",
		})
	})
	app.Get("/swagger/*", swagger.HandlerDefault)

	routes.SetupRoutes(app, routes.Handlers{
		Payments:      handlers.NewPaymentHandler(payments, webhooks),
		Escrow:        handlers.NewEscrowHandler(escrow),
		Withdrawals:   handlers.NewWithdrawalHandler(withdrawals, proofs),
		Refunds:       handlers.NewRefundHandler(refunds),
		Notifications: handlers.NewNotificationHandler(notifications),
	}, cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server starting", zap.String("port", cfg.Port))
		return app.Listen(":" + cfg.Port)
	})

	scheduler.Start()
	g.Go(func() error {
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := events.NewConsumer(cfg.KafkaBrokers, cfg.OrderEventsTopic, escrow, log)
		if err != nil {
			log.Fatal("Failed to start order events consumer", zap.Error(err))
		}
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Server stopped with error", zap.Error(err))
	}
	log.Info("Server stopped")
}

func buildGateways(cfg *config.Config) (*gateway.Registry, error) {
	var configured []gateway.Gateway
	if cfg.PaystackSecretKey != "" {
		configured = append(configured, gateway.NewPaystackGateway(cfg.PaystackSecretKey, cfg.PaystackBaseURL, cfg.GatewayTimeout))
	}
	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret != "" {
		configured = append(configured, gateway.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret))
	}
	if cfg.Gateway == "mock" {
		configured = append(configured, gateway.NewMockGateway(cfg.MockServerKey, cfg.MockBaseURL))
	}

	for i, gw := range configured {
		if string(gw.Name()) == cfg.Gateway {
			others := append(append([]gateway.Gateway{}, configured[:i]...), configured[i+1:]...)
			return gateway.NewRegistry(gw, others...), nil
		}
	}
	return nil, errors.New("gateway " + cfg.Gateway + " is not configured")
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return c.Status(fe.Code).JSON(fiber.Map{
			"error": fe.Message,
			"code":  "http_error",
		})
	}

	logger.FromContext(c.UserContext(), nil).Error("Request failed",
		zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
		"code":  "internal_error",
	})
}
