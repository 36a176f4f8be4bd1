package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"event-ticketing/config"
	"event-ticketing/internal/handlers"
	"event-ticketing/internal/services"
	"event-ticketing/internal/services/bank"
	"event-ticketing/internal/store"
	"event-ticketing/monitoring"
	"event-ticketing/security"
	"event-ticketing/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

const serviceName = "event-ticketing"

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := monitoring.SetupTracing(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("shutdown tracing", "error", err)
		}
	}()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	monitor := monitoring.NewMonitor(st)

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)
	breaker := utils.NewCircuitBreaker("pubnub",
		utils.WithTimeout(30*time.Second),
		utils.WithStateChange(func(name string, from, to utils.State) {
			monitor.TrackBreakerState(name, int(to))
		}),
	)

	// Initialize services
	availabilityService := services.NewAvailabilityService(redisClient, st, cfg.AvailabilityCacheTTL)
	notificationService := services.NewNotificationService(services.NewPubNubPublisher(pn, breaker))
	catalogService := services.NewCatalogService(st, availabilityService)
	issuanceService := services.NewIssuanceService(st, utils.RandomCodes, cfg.CodeMaxAttempts)
	paymentService := services.NewPaymentService(st, catalogService, issuanceService, availabilityService, notificationService, monitor)
	scanService := services.NewScanService(st, catalogService, notificationService, monitor, services.ScanOptions{
		AllowPending: cfg.ScanAllowPending,
		MaxAttempts:  cfg.ScanMaxAttempts,
	})
	ticketService := services.NewTicketService(st)

	// Initialize handlers
	orderHandler := handlers.NewOrderHandler(paymentService)
	paymentHandler := handlers.NewPaymentHandler(paymentService, bank.NewHMACVerifier(cfg.PaymentWebhookSecret))
	scanHandler := handlers.NewScanHandler(scanService)
	ticketHandler := handlers.NewTicketHandler(ticketService)
	eventHandler := handlers.NewEventHandler(catalogService, availabilityService)
	adminHandler := handlers.NewAdminHandler(catalogService, paymentService)

	scanLimiter := security.NewRateLimiter(redisClient, cfg.ScanRateLimit, cfg.ScanRateWindow, monitor)

	if cfg.EnableMetrics {
		if err := monitor.Start(cfg.MetricsRefreshInterval); err != nil {
			return err
		}
		defer monitor.Stop()
	}

	// Collection migrations for the PocketBase side (auth users)
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		api := se.Router.Group("/api/v1")

		// Orders and payments
		api.POST("/orders", orderHandler.CreateOrder).Bind(apis.RequireAuth()).BindFunc(security.AntiBotMiddleware)
		api.GET("/orders/{paymentId}", orderHandler.GetOrder).Bind(apis.RequireAuth())
		api.POST("/payments/webhook", paymentHandler.PaymentWebhook)

		// Gate scanning
		api.POST("/scans", scanHandler.VerifyScan).Bind(apis.RequireAuth()).BindFunc(scanLimiter.Middleware("scan"))
		api.GET("/events/{eventId}/scans", scanHandler.ListScans).Bind(apis.RequireAuth())

		// Storefront
		api.GET("/events/{eventId}", eventHandler.GetEvent)
		api.GET("/events/{eventId}/availability", eventHandler.GetAvailability)

		// Tickets
		api.GET("/tickets", ticketHandler.ListTickets).Bind(apis.RequireAuth())
		api.GET("/tickets/{code}/qr", ticketHandler.GetTicketQR).Bind(apis.RequireAuth())

		// Organizer endpoints
		admin := api.Group("/admin").Bind(apis.RequireAuth())
		admin.POST("/events", adminHandler.CreateEvent)
		admin.POST("/events/{eventId}/tiers", adminHandler.CreateTier)
		admin.POST("/events/{eventId}/status", adminHandler.UpdateEventStatus)
		admin.POST("/tiers/{tierId}/active", adminHandler.SetTierActive)
		admin.POST("/payments/{paymentId}/refund", adminHandler.RefundPayment)
		admin.GET("/events/{eventId}/reconciliation", adminHandler.GetReconciliation)

		// Test endpoint for payment simulation
		if cfg.SimulatePayments() {
			slog.Warn("payment simulation endpoint enabled")
			api.POST("/test/simulate-payment", paymentHandler.SimulatePayment).Bind(apis.RequireAuth())
		}

		if cfg.EnableMetrics {
			se.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		se.Router.GET("/health", func(e *core.RequestEvent) error {
			checkCtx := e.Request.Context()
			if err := st.Ping(checkCtx); err != nil {
				return e.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
			if err := utils.RedisHealthCheck(checkCtx, redisClient); err != nil {
				return e.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		slog.Info("server routes registered", "environment", cfg.Environment)
		return se.Next()
	})

	// Default to serving on the configured port when started without a command.
	if len(os.Args) == 1 {
		app.RootCmd.SetArgs([]string{"serve", fmt.Sprintf("--http=0.0.0.0:%s", cfg.Port)})
	}

	return app.Start()
}
