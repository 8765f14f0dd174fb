package handler

import (
	"net/http"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/plan"
	"github.com/dukerupert/duobill/internal/billing/sdk"
)

// PublicConfig is what the pricing page needs to render both checkout
// paths. It never carries secrets.
type PublicConfig struct {
	Currency      string       `json:"currency"`
	StripeEnabled bool         `json:"stripeEnabled"`
	PayPal        PayPalPublic `json:"paypal"`
	Plans         []PlanPublic `json:"plans"`
}

type PayPalPublic struct {
	Env      billing.Environment `json:"env"`
	ClientID string              `json:"clientId,omitempty"`
	SDKURL   string              `json:"sdkUrl,omitempty"`
}

type PlanPublic struct {
	Key         string                     `json:"key"`
	Currency    string                     `json:"currency"`
	TrialDays   int                        `json:"trialDays"`
	PayPalPlans map[billing.Cadence]string `json:"paypalPlans"`
}

type ConfigHandler struct {
	config PublicConfig
}

// NewConfigHandler snapshots the public configuration once; plans are
// immutable after startup.
func NewConfigHandler(plans *plan.Registry, env billing.Environment, clientID, currency string, stripeEnabled bool) *ConfigHandler {
	cfg := PublicConfig{
		Currency:      currency,
		StripeEnabled: stripeEnabled,
		PayPal:        PayPalPublic{Env: env, ClientID: clientID},
		Plans:         []PlanPublic{},
	}
	if clientID != "" {
		cfg.PayPal.SDKURL = sdk.ScriptURL(clientID, currency)
	}
	for _, p := range plans.Plans() {
		cfg.Plans = append(cfg.Plans, PlanPublic{
			Key:         p.Key,
			Currency:    p.Currency,
			TrialDays:   p.TrialDays,
			PayPalPlans: p.PayPalPlans,
		})
	}
	return &ConfigHandler{config: cfg}
}

func (h *ConfigHandler) Config(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, h.config)
}
