package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/bookbridge/storefront-adapter/internal/api"
	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/cart"
	"github.com/bookbridge/storefront-adapter/internal/checkout"
	"github.com/bookbridge/storefront-adapter/internal/marketplace"
	"github.com/bookbridge/storefront-adapter/internal/notify"
	"github.com/bookbridge/storefront-adapter/internal/publisher"
	"github.com/bookbridge/storefront-adapter/internal/rate"
	internalsecrets "github.com/bookbridge/storefront-adapter/internal/secrets"
	"github.com/bookbridge/storefront-adapter/internal/store"
	"github.com/bookbridge/storefront-adapter/internal/tracker"
	"github.com/bookbridge/storefront-adapter/pkg/config"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
	"github.com/bookbridge/storefront-adapter/pkg/logger"
	"github.com/bookbridge/storefront-adapter/pkg/model"
	"github.com/bookbridge/storefront-adapter/pkg/secrets"
	"github.com/bookbridge/storefront-adapter/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [storefront-adapter]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Secrets provider ---
	var provider secrets.Provider
	switch cfg.SecretsBackend {
	case "aws":
		sm, err := secrets.NewSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		provider = sm
	default:
		provider = secrets.NewEnvProvider()
	}

	// --- Gateway settings resolver (secrets cached in-memory) ---
	gatewayCache := secrets.NewCache[model.GatewaySettings](cfg.CacheTTL)
	go gatewayCache.Run(ctx, cfg.CleanupFreq)

	gateway := internalsecrets.NewGatewayResolver(
		logger.Named("secrets"),
		cfg.Env,
		provider,
		gatewayCache,
		model.GatewaySettings{
			Endpoint:           cfg.GatewayEndpoint(),
			SimulationEmail:    cfg.SimulationEmail,
			SimulationPassword: cfg.SimulationPassword,
		},
	)
	// --- Discover configured secrets ---
	names, err := gateway.DiscoverSecrets(ctx)
	if err != nil {
		logg.Warnw("failed to discover storefront secrets", "error", err)
	} else {
		logg.Infow("discovered storefront secrets", "count", len(names), "secrets", names)
	}
	if gw, err := gateway.Gateway(ctx); err != nil {
		logg.Warnw("gateway settings unavailable at startup", "secret", gateway.SecretName(), "error", err)
	} else {
		logg.Infow("gateway settings resolved", "secret", gateway.SecretName(), "endpoint", gw.Endpoint)
	}

	// --- Event bus and sinks ---
	bus := eventbus.New()

	var nc *nats.Conn
	var pub *publisher.Publisher
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = publisher.New(nc, cfg.EventStream, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		pub.Attach(bus)
	} else {
		logg.Warn("NATS_URL not configured; lifecycle events are not streamed")
	}

	var rabbit *publisher.RabbitPublisher
	if cfg.RabbitMQURL != "" {
		var err error
		rabbit, err = publisher.NewRabbitPublisher(cfg.RabbitMQURL, publisher.DefaultExchange, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to init RabbitMQ publisher", "error", err)
		}
		rabbit.Attach(bus)
	}

	// --- Rate limiter (per actor) ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		Cooldown:          cfg.RateLimitCooldown,
	})

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPass,
	}, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Marketplace HTTP client (credential supplied per request) ---
	client := marketplace.NewClient(logger.Named("marketplace"), rateMgr, cfg.MarketplaceURL, marketplace.Options{
		Timeout:  cfg.MarketplaceTimeout,
		RetryMax: cfg.MarketplaceRetryMax,
	})

	// --- Lifecycle components ---
	creds := auth.ContextProvider{}
	parser := auth.NewParser(cfg.JWTSecret)
	if !parser.Verifies() {
		logg.Warn("JWT_SECRET not configured; token claims are read unverified")
	}

	carts := cart.NewRegistry(logger.Named("cart"), client, creds, bus)
	go carts.StartSweeper(ctx, cfg.CartIdleTTL/2, cfg.CartIdleTTL)

	orders := checkout.NewOrders(logger.Named("orders"), client, carts, creds, st, cfg.CheckoutLockTTL, bus)
	payments := checkout.NewPayments(logger.Named("payments"), client, carts, creds, st, gateway, bus, checkout.PaymentOptions{
		MemoTTL:           cfg.VerificationMemoTTL,
		SimulationEnabled: cfg.SimulationEnabled,
		SimulationDelay:   cfg.SimulationDelay,
	})
	orderTracker := tracker.NewTracker(logger.Named("tracker"), client, creds, st, bus)
	poller := notify.NewPoller(logger.Named("notify"), client, cfg.NotificationPollInterval)

	go func() {
		ticker := time.NewTicker(cfg.CartIdleTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateMgr.Forget(cfg.CartIdleTTL)
			}
		}
	}()

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewStorefrontHandler(
		logger.Named("api"),
		carts,
		orders,
		payments,
		orderTracker,
		cfg.PublicBaseURL+"/payment/result",
	)
	api.RegisterRoutes(app, nc, st, logger.Named("api"), parser, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Notification websocket ---
	var wsServer *http.Server
	if cfg.WSPort > 0 {
		socket := api.NewNotificationsSocket(logger.Named("ws"), parser, poller, cfg.AllowedOrigins)
		wsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WSPort),
			Handler:           socket.Handler(),
			ReadHeaderTimeout: cfg.HTTPReadTimeout,
		}
		go func() {
			logg.Infof("notification socket listening on :%d%s", cfg.WSPort, api.NotificationsPath)
			if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Fatalw("ws.listen_failed", "error", err)
			}
		}()
	}

	// --- Main process stays alive until interrupted ---
	logg.Infow("[storefront-adapter] running",
		"env", cfg.Env,
		"marketplace", cfg.MarketplaceURL,
		"gateway_mode", cfg.GatewayMode,
		"simulation", cfg.SimulationEnabled,
		"poll_interval", cfg.NotificationPollInterval)

	<-ctx.Done()
	logg.Info("shutting down [storefront-adapter]...")

	poller.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if wsServer != nil {
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			logg.Warnw("ws.shutdown_failed", "error", err)
		}
	}
	bus.Drain()
	if rabbit != nil {
		if err := rabbit.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
