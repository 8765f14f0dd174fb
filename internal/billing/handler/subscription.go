package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/model"
	"github.com/dukerupert/duobill/internal/billing/paypal"
	"github.com/dukerupert/duobill/internal/billing/plan"
)

// LinkStore is satisfied by *store.SubscriptionLinkStore.
type LinkStore interface {
	Create(l model.SubscriptionLink) (*model.SubscriptionLink, bool, error)
}

// SubscriptionLookup is satisfied by *paypal.Verifier.
type SubscriptionLookup interface {
	Subscription(ctx context.Context, env billing.Environment, id string) (paypal.Subscription, error)
}

// LinkMetrics counts recorded approvals.
type LinkMetrics interface {
	RecordSubscriptionLink(created bool)
}

type SubscriptionHandler struct {
	links   LinkStore
	lookup  SubscriptionLookup
	env     billing.Environment
	planIDs map[string]bool
	metrics LinkMetrics
	logger  *slog.Logger
}

// NewSubscriptionHandler builds the handler. Every approval is confirmed with
// PayPal in env before it is stored. When the registry knows any PayPal plan
// ids, approvals for other plans are rejected.
func NewSubscriptionHandler(links LinkStore, lookup SubscriptionLookup, env billing.Environment, plans *plan.Registry, metrics LinkMetrics, logger *slog.Logger) *SubscriptionHandler {
	ids := make(map[string]bool)
	for _, id := range plans.PayPalPlanIDs() {
		ids[id] = true
	}
	return &SubscriptionHandler{links: links, lookup: lookup, env: env, planIDs: ids, metrics: metrics, logger: logger}
}

type subscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	PlanID         string `json:"planId"`
	UserID         string `json:"userId"`
}

// RecordPayPal stores the approval reported by the subscription button once
// PayPal confirms the subscription exists, is approved and is on planId.
// Reporting the same subscription again for the same user returns the stored
// record; reporting it for another user is a conflict.
func (h *SubscriptionHandler) RecordPayPal(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.SubscriptionID = strings.TrimSpace(req.SubscriptionID)
	req.PlanID = strings.TrimSpace(req.PlanID)
	req.UserID = strings.TrimSpace(req.UserID)

	switch {
	case req.SubscriptionID == "":
		http.Error(w, "subscriptionId is required", http.StatusBadRequest)
		return
	case req.UserID == "":
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	case req.PlanID == "":
		http.Error(w, "planId is required", http.StatusBadRequest)
		return
	case len(h.planIDs) > 0 && !h.planIDs[req.PlanID]:
		http.Error(w, "unknown planId", http.StatusBadRequest)
		return
	}

	sub, err := h.lookup.Subscription(r.Context(), h.env, req.SubscriptionID)
	switch {
	case errors.Is(err, billing.ErrInvalidRequest):
		http.Error(w, "unknown subscriptionId", http.StatusBadRequest)
		return
	case errors.Is(err, billing.ErrConfiguration):
		h.logger.Error("paypal subscription lookup not configured", "env", h.env, "error", err)
		http.Error(w, "subscription verification unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("paypal subscription lookup", "subscription_id", req.SubscriptionID, "error", err)
		http.Error(w, "could not verify subscription", http.StatusBadGateway)
		return
	}

	switch {
	case sub.PlanID != req.PlanID:
		h.logger.Warn("paypal subscription plan mismatch", "subscription_id", req.SubscriptionID, "plan_id", sub.PlanID, "reported_plan_id", req.PlanID)
		http.Error(w, "planId does not match subscription", http.StatusBadRequest)
		return
	case !sub.Active():
		http.Error(w, "subscription is not active", http.StatusBadRequest)
		return
	case sub.CustomID != "" && sub.CustomID != req.UserID:
		h.logger.Warn("paypal subscription belongs to another user", "subscription_id", req.SubscriptionID)
		http.Error(w, "subscription belongs to another user", http.StatusConflict)
		return
	}

	link, created, err := h.links.Create(model.SubscriptionLink{
		UserID:                 req.UserID,
		Provider:               string(billing.ProviderPayPal),
		ProviderSubscriptionID: req.SubscriptionID,
		PlanID:                 sub.PlanID,
	})
	if err != nil {
		h.logger.Error("record paypal subscription", "subscription_id", req.SubscriptionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !created && link.UserID != req.UserID {
		h.logger.Warn("paypal subscription already recorded for another user", "subscription_id", req.SubscriptionID)
		http.Error(w, "subscription belongs to another user", http.StatusConflict)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordSubscriptionLink(created)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("paypal subscription recorded", "subscription_id", link.ProviderSubscriptionID, "plan_id", link.PlanID)
	}
	writeJSON(w, status, link)
}
