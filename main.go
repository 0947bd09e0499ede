package main

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/madfam-org/janua-sub020/compliance"
	"github.com/madfam-org/janua-sub020/config"
	"github.com/madfam-org/janua-sub020/edgecase"
	"github.com/madfam-org/janua-sub020/fallback"
	"github.com/madfam-org/janua-sub020/handlers"
	"github.com/madfam-org/janua-sub020/health"
	"github.com/madfam-org/janua-sub020/kvstore"
	"github.com/madfam-org/janua-sub020/logging"
	"github.com/madfam-org/janua-sub020/monitoring"
	"github.com/madfam-org/janua-sub020/routing"
	"github.com/madfam-org/janua-sub020/service"
	"github.com/madfam-org/janua-sub020/webhook"
)

func main() {
	// Initialize structured logging
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()
	defer func() {
		if err := logging.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize OpenTelemetry
	tp, tracer, err := monitoring.InitTracer(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	mp, _, err := monitoring.InitMeter(cfg.ServiceName)
	if err != nil {
		logging.Fatal("Failed to initialize meter", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Key-value store: Redis when configured, in-process otherwise
	var store kvstore.Store
	if cfg.RedisAddr != "" {
		rdb := kvstore.NewRedis(cfg.RedisAddr, cfg.RedisDB)
		if err := rdb.Ping(context.Background()); err != nil {
			logging.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		store = rdb
		logging.Info("Using Redis key-value store", zap.String("addr", cfg.RedisAddr))
	} else {
		store = kvstore.NewMemory()
		logging.Warn("REDIS_ADDR not set, using in-memory key-value store")
	}

	logger := logging.GetLogger()
	providers := cfg.ProviderIDs()

	// Decision components
	tracker := health.NewTracker(providers).WithPersistence(store)
	engine := routing.NewEngine(providers, tracker, routing.Options{
		FallbackPenalty:   cfg.Routing.FallbackPenalty,
		DefaultConfidence: cfg.Routing.DefaultConfidence,
		Logger:            logger,
	})
	executor := fallback.NewExecutor(engine, tracker, logger)
	evaluator := compliance.NewEvaluator(logger)
	edgeHandler := edgecase.NewHandler(store, logger)

	// Webhook ingestion
	verifiers := make(map[string]webhook.Verifier)
	for _, p := range cfg.Providers {
		switch p.ID {
		case "stripe":
			verifiers[p.ID] = webhook.StripeVerifier{Secret: p.WebhookSecret}
		case "conekta":
			verifiers[p.ID] = webhook.HMACVerifier{
				Secret:   p.WebhookSecret,
				Header:   "X-Conekta-Signature",
				IDFields: []string{"id"},
			}
		case "dlocal":
			verifiers[p.ID] = webhook.HMACVerifier{
				Secret:   p.WebhookSecret,
				Header:   "X-Dlocal-Signature",
				IDFields: []string{"notification_id", "id"},
			}
		default:
			logging.Warn("No webhook verifier for provider, receiver disabled", zap.String("provider", p.ID))
		}
	}
	registry := webhook.NewHandlers(
		webhook.NewMemoryRecordStore(),
		webhook.NewMemoryNotifier(),
		webhook.NewMemoryScheduler(),
		logger,
	).Registry()
	ingestor := webhook.NewIngestor(store, verifiers, registry, logger)

	// Service and HTTP layer
	paymentService := service.NewPaymentService(tracer, engine, executor, evaluator, service.LocalGateways(providers))
	paymentHandler := handlers.NewPaymentHandler(paymentService, tracker, ingestor)
	edgeCaseHandler := handlers.NewEdgeCaseHandler(edgeHandler)

	// Setup Gin router
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMetricsMiddleware())

	// Routes
	r.GET("/health", paymentHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/payments", paymentHandler.CreatePayment)
		api.POST("/payments/route", paymentHandler.RouteTransaction)
		api.POST("/payments/compliance", paymentHandler.ComplianceChecks)
		api.POST("/payments/edge-cases/:type", edgeCaseHandler.Handle)
		api.GET("/providers/health", paymentHandler.ProviderHealth)
	}

	r.POST("/webhooks/:provider", paymentHandler.Webhook)
	r.GET("/webhooks/health", paymentHandler.WebhookHealth)

	// Start server
	logging.Info("Payment orchestrator starting",
		zap.String("port", cfg.Port),
		zap.Strings("providers", providers),
	)
	if err := r.Run(":" + cfg.Port); err != nil {
		logging.Fatal("Failed to start server", zap.Error(err))
	}
}

// httpMetricsMiddleware records HTTP request metrics
func httpMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Record duration
		duration := float64(time.Since(start).Milliseconds())

		monitoring.HTTPServerDuration.Record(c.Request.Context(), duration,
			metric.WithAttributes(
				attribute.String("http_method", c.Request.Method),
				attribute.String("http_route", c.FullPath()),
				attribute.String("http_status_code", strconv.Itoa(c.Writer.Status())),
			),
		)
	}
}
