package paypal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukerupert/duobill/internal/billing"
)

const subscriptionsPath = "/v1/billing/subscriptions/"

// Subscription is what PayPal reports about one subscription: enough to
// attribute an approval to a plan and, when the button set custom_id, to a
// user.
type Subscription struct {
	ID       string `json:"id"`
	PlanID   string `json:"plan_id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
}

// Active reports whether the payer has approved the subscription and it is
// still running.
func (s Subscription) Active() bool {
	switch s.Status {
	case "APPROVED", "ACTIVE":
		return true
	}
	return false
}

// Subscription looks up id with PayPal. An id PayPal does not know is an
// InvalidRequestError; other failures are UpstreamBillingError.
func (v *Verifier) Subscription(ctx context.Context, env billing.Environment, id string) (Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Subscription{}, &billing.InvalidRequestError{Field: "subscriptionId", Msg: "subscriptionId is required"}
	}
	tok, err := v.tokens.AccessToken(ctx, env)
	if err != nil {
		return Subscription{}, err
	}

	var sub Subscription
	err = v.get(ctx, env, tok, subscriptionsPath+url.PathEscape(id), "subscription", &sub)
	var pfe *fetchError
	switch {
	case err == nil:
		return sub, nil
	case errors.As(err, &pfe) && pfe.Status == http.StatusNotFound:
		return Subscription{}, &billing.InvalidRequestError{Field: "subscriptionId", Msg: "unknown PayPal subscription"}
	case errors.As(err, &pfe):
		return Subscription{}, &billing.UpstreamBillingError{Provider: billing.ProviderPayPal, Status: pfe.Status, Message: pfe.Body, Err: err}
	default:
		return Subscription{}, &billing.UpstreamBillingError{Provider: billing.ProviderPayPal, Message: err.Error(), Err: err}
	}
}
