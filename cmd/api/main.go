package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commerce-core/internal/cache"
	"commerce-core/internal/config"
	"commerce-core/internal/database"
	"commerce-core/internal/handler"
	"commerce-core/internal/inventory"
	"commerce-core/internal/provider"
	"commerce-core/internal/reconcile"
	"commerce-core/internal/repository"
	"commerce-core/internal/router"
	"commerce-core/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env if present; real deployments set the environment directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Logger)
	logger.Info().Msg("starting commerce-core API server")

	// Create context for application lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}

	// Initialize repositories and the inventory gateway
	orderRepo := repository.NewOrderRepository(pool, logger)
	paymentRepo := repository.NewPaymentRepository(pool, logger)
	gateway := inventory.NewPostgresGateway(pool, logger)

	// Provider token cache: redis when configured, in-process otherwise
	var tokens cache.Cache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		tokens = cache.NewRedis(client)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis token cache")
	} else {
		tokens = cache.NewMemory()
		logger.Info().Msg("using in-process token cache (redis disabled)")
	}

	// Register the providers that carry credentials. An unconfigured
	// provider is simply absent and its name is rejected at the API.
	var providers []provider.Provider
	if cfg.Stripe.Configured() {
		providers = append(providers, provider.NewStripe(provider.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			BaseURL:       cfg.Stripe.BaseURL,
			Timeout:       cfg.Stripe.Timeout,
		}, logger))
	}
	if cfg.Bkash.Configured() {
		providers = append(providers, provider.NewBkash(provider.BkashConfig{
			BaseURL:   cfg.Bkash.BaseURL,
			AppKey:    cfg.Bkash.AppKey,
			AppSecret: cfg.Bkash.AppSecret,
			Username:  cfg.Bkash.Username,
			Password:  cfg.Bkash.Password,
			Timeout:   cfg.Bkash.Timeout,
			TokenTTL:  cfg.Bkash.TokenTTL,
		}, tokens, logger))
	}
	registry := provider.NewRegistry(providers...)
	logger.Info().Int("providers", len(providers)).Msg("payment providers registered")

	// Initialize services
	orderService := service.NewOrderService(orderRepo, paymentRepo, gateway, logger)
	paymentService := service.NewPaymentService(paymentRepo, orderRepo, orderService, registry, logger)
	checkoutService := service.NewCheckoutService(orderService, paymentRepo, gateway, registry, logger)

	// Background reconciliation for providers without webhooks
	if cfg.Reconcile.Enabled {
		poller := reconcile.NewPoller(paymentRepo, paymentService, registry.PollOnly(), &reconcile.Config{
			Interval: cfg.Reconcile.Interval,
			MinAge:   cfg.Reconcile.MinAge,
			Batch:    cfg.Reconcile.BatchSize,
		}, logger)
		go poller.Run(ctx)
	} else {
		logger.Info().Msg("payment reconciliation disabled")
	}

	// Initialize HTTP handlers
	checkoutHandler := handler.NewCheckoutHandler(checkoutService, logger)
	orderHandler := handler.NewOrderHandler(orderService, logger)
	paymentHandler := handler.NewPaymentHandler(paymentService, logger)

	// Initialize router
	mux := router.New(checkoutHandler, orderHandler, paymentHandler, cfg.Auth.APIKey, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for errors from the server
	serverErrors := make(chan error, 1)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info().
			Str("address", cfg.Server.Address()).
			Msg("HTTP server started")
		serverErrors <- server.ListenAndServe()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or an error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info().
			Str("signal", sig.String()).
			Msg("shutdown signal received, starting graceful shutdown")

		// Stop the reconciliation poller alongside the server
		cancel()

		// Create a context with timeout for shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Attempt graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server gracefully")
			// Force close
			if closeErr := server.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close server")
			}
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info().Msg("server shutdown completed")
	}

	return nil
}
