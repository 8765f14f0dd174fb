package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/checkout"
)

// CheckoutCreator is satisfied by *checkout.Orchestrator.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

type CheckoutHandler struct {
	checkout       CheckoutCreator
	baseURL        string
	allowedOrigins map[string]bool
	logger         *slog.Logger
}

// NewCheckoutHandler builds the handler. A nil creator means Stripe is not
// configured; the route then answers 500 without calling anything.
func NewCheckoutHandler(c CheckoutCreator, baseURL string, allowedOrigins []string, logger *slog.Logger) *CheckoutHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &CheckoutHandler{
		checkout:       c,
		baseURL:        baseURL,
		allowedOrigins: allowed,
		logger:         logger,
	}
}

type checkoutRequest struct {
	PlanID   string `json:"planId"`
	IsYearly *bool  `json:"isYearly"`
	UserID   string `json:"userId"`
}

// CreateCheckoutSession creates a Stripe checkout session and returns its id
// and redirect URL.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		http.Error(w, "checkout is not configured", http.StatusInternalServerError)
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var cadence billing.Cadence
	if req.IsYearly != nil {
		cadence = billing.CadenceFromYearly(*req.IsYearly)
	}

	res, err := h.checkout.CreateCheckoutSession(r.Context(), checkout.Request{
		PlanKey:        req.PlanID,
		Cadence:        cadence,
		UserID:         req.UserID,
		OriginURL:      h.origin(r),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			h.logger.Error("create checkout session", "plan", req.PlanID, "error", err)
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// origin is the caller's Origin when it is one of ours, else the public
// base URL.
func (h *CheckoutHandler) origin(r *http.Request) string {
	if o := strings.TrimRight(r.Header.Get("Origin"), "/"); o != "" && h.allowedOrigins[o] {
		return o
	}
	return h.baseURL
}
