package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/duobill/internal/billing/server"
	billingstripe "github.com/dukerupert/duobill/internal/billing/stripe"
	"github.com/dukerupert/duobill/internal/config"
	"github.com/dukerupert/duobill/internal/database"
	"github.com/dukerupert/duobill/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	plans, err := cfg.Plans()
	if err != nil {
		slog.Error("failed to load plans", "error", err)
		os.Exit(1)
	}
	if err := plans.Validate(); err != nil {
		slog.Warn("plan configuration is incomplete", "error", err)
	}
	if cfg.Stripe.SecretKey == "" {
		slog.Warn("STRIPE_SECRET_KEY not set, checkout disabled")
	}

	env := cfg.DefaultPayPalEnv()
	srv := server.New(db, server.Config{
		Plans: plans,
		Stripe: billingstripe.Config{
			SecretKey: cfg.Stripe.SecretKey,
			APIURL:    cfg.Stripe.APIURL,
		},
		PayPal:         cfg.PayPalClient(),
		PayPalEnv:      env,
		PayPalClientID: cfg.PublicClientID(env),
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
		Currency:       cfg.Currency,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("billing service starting", "addr", httpServer.Addr, "paypal_env", env, "plans", plans.Keys())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
