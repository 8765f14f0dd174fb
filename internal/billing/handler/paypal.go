package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/paypal"
)

// PlanVerifier is satisfied by *paypal.Verifier.
type PlanVerifier interface {
	VerifyPlans(ctx context.Context, env billing.Environment, ids []string) ([]paypal.PlanVerificationResult, error)
}

type PayPalHandler struct {
	verifier PlanVerifier
	logger   *slog.Logger
}

func NewPayPalHandler(v PlanVerifier, logger *slog.Logger) *PayPalHandler {
	return &PayPalHandler{verifier: v, logger: logger}
}

type verifyPlansResponse struct {
	Env     billing.Environment             `json:"env"`
	Results []paypal.PlanVerificationResult `json:"results"`
}

// VerifyPlans looks up every id in ?plans= against PayPal's billing API.
// CORS headers and preflight are handled by middleware.
func (h *PayPalHandler) VerifyPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	env := billing.EnvironmentFromQuery(q.Get("env"))
	ids := splitIDs(q.Get("plans"))
	if len(ids) == 0 {
		writeJSONError(w, http.StatusBadRequest, "plans query parameter is required")
		return
	}

	results, err := h.verifier.VerifyPlans(r.Context(), env, ids)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			h.logger.Error("verify paypal plans", "env", env, "error", err)
		}
		writeJSONError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, verifyPlansResponse{Env: env, Results: results})
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
