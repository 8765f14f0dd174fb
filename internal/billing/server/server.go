package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/checkout"
	"github.com/dukerupert/duobill/internal/billing/handler"
	"github.com/dukerupert/duobill/internal/billing/middleware"
	"github.com/dukerupert/duobill/internal/billing/paypal"
	"github.com/dukerupert/duobill/internal/billing/plan"
	"github.com/dukerupert/duobill/internal/billing/store"
	billingstripe "github.com/dukerupert/duobill/internal/billing/stripe"
	"github.com/dukerupert/duobill/internal/metrics"
	sharedmw "github.com/dukerupert/duobill/internal/middleware"
)

type Server struct {
	db          *sql.DB
	logger      *slog.Logger
	checkoutH   *handler.CheckoutHandler
	paypalH     *handler.PayPalHandler
	configH     *handler.ConfigHandler
	linkH       *handler.SubscriptionHandler
	registry    *prometheus.Registry
	rateLimiter *sharedmw.RateLimiter
	origins     []string
}

type Config struct {
	Plans          *plan.Registry
	Stripe         billingstripe.Config
	PayPal         paypal.Config
	PayPalEnv      billing.Environment
	PayPalClientID string
	BaseURL        string
	AllowedOrigins []string
	Currency       string
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	plans := cfg.Plans
	if plans == nil {
		plans = plan.New(nil, plan.Defaults{Currency: cfg.Currency})
	}

	broker := paypal.NewBroker(cfg.PayPal,
		paypal.WithMetrics(collector),
		paypal.WithLogger(logger.With("component", "paypal")))
	verifier := paypal.NewVerifier(broker, cfg.PayPal,
		paypal.WithVerifierMetrics(collector),
		paypal.WithVerifierLogger(logger.With("component", "paypal")))

	// Without a Stripe key the checkout route stays registered and reports
	// the misconfiguration.
	var creator handler.CheckoutCreator
	if cfg.Stripe.SecretKey != "" {
		if cfg.Stripe.Logger == nil {
			cfg.Stripe.Logger = logger.With("component", "stripe")
		}
		creator = checkout.New(plans, billingstripe.NewClient(cfg.Stripe),
			checkout.WithLogger(logger.With("component", "checkout")),
			checkout.WithMetrics(collector))
	}

	links := store.NewSubscriptionLinkStore(db)

	return &Server{
		db:          db,
		logger:      logger,
		checkoutH:   handler.NewCheckoutHandler(creator, cfg.BaseURL, cfg.AllowedOrigins, logger.With("component", "checkout")),
		paypalH:     handler.NewPayPalHandler(verifier, logger.With("component", "paypal")),
		configH:     handler.NewConfigHandler(plans, cfg.PayPalEnv, cfg.PayPalClientID, plansCurrency(cfg.Currency), creator != nil),
		linkH:       handler.NewSubscriptionHandler(links, verifier, cfg.PayPalEnv, plans, collector, logger.With("component", "subscriptions")),
		registry:    registry,
		rateLimiter: sharedmw.NewRateLimiter(),
		origins:     cfg.AllowedOrigins,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *sharedmw.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /metrics", metrics.Handler(s.registry))

	cors := middleware.CORS(s.origins)
	// CORS answers every OPTIONS request itself.
	preflight := cors(http.NotFoundHandler())
	// api registers h for method on path, plus the preflight and a 405 for
	// every other method, all carrying CORS headers.
	api := func(method, path string, h http.Handler) {
		mux.Handle(method+" "+path, cors(h))
		mux.Handle("OPTIONS "+path, preflight)
		mux.Handle(path, cors(methodNotAllowed(method+", OPTIONS")))
	}

	api("POST", "/api/checkout", http.HandlerFunc(s.checkoutH.CreateCheckoutSession))
	api("GET", "/api/paypal/verify-plans", http.HandlerFunc(s.paypalH.VerifyPlans))
	api("GET", "/api/billing/config", http.HandlerFunc(s.configH.Config))

	rateLimitMw := sharedmw.RateLimit(s.rateLimiter, sharedmw.RealIP, 10, time.Minute)
	api("POST", "/api/subscriptions/paypal", rateLimitMw(http.HandlerFunc(s.linkH.RecordPayPal)))

	var h http.Handler = mux
	h = sharedmw.RequestLogger(s.logger)(h)
	h = sharedmw.RequestID(h)
	return h
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func methodNotAllowed(allow string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
}

func plansCurrency(c string) string {
	if c == "" {
		return plan.DefaultCurrency
	}
	return c
}
