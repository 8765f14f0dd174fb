// Package checkout turns a plan, a cadence and a user into a redirect-based
// checkout session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/plan"
	billingstripe "github.com/dukerupert/duobill/internal/billing/stripe"
)

// SessionCreator creates provider checkout sessions. *stripe.Client
// implements it.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, p billingstripe.SessionParams) (*billingstripe.Session, error)
}

// Metrics receives one observation per checkout attempt.
type Metrics interface {
	RecordCheckout(outcome string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordCheckout(string, time.Duration) {}

// Request is a checkout attempt. An empty Cadence means the caller did not
// say which one it wants.
type Request struct {
	PlanKey        string
	Cadence        billing.Cadence
	UserID         string
	OriginURL      string
	IdempotencyKey string
}

type Result struct {
	SessionID   string `json:"id"`
	RedirectURL string `json:"url"`
}

type Orchestrator struct {
	plans    *plan.Registry
	sessions SessionCreator
	logger   *slog.Logger
	metrics  Metrics
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func New(plans *plan.Registry, sessions SessionCreator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		plans:    plans,
		sessions: sessions,
		logger:   slog.Default(),
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateCheckoutSession validates req, resolves the Stripe price for the
// plan and cadence, and creates a subscription session. It never retries.
func (o *Orchestrator) CreateCheckoutSession(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := o.create(ctx, req)
	o.metrics.RecordCheckout(outcome(err), time.Since(start))
	if err != nil {
		o.logger.Warn("checkout failed", "plan", req.PlanKey, "cadence", req.Cadence, "error", err)
		return Result{}, err
	}
	o.logger.Info("checkout session created", "plan", req.PlanKey, "cadence", req.Cadence, "session_id", res.SessionID)
	return res, nil
}

func (o *Orchestrator) create(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	successURL, cancelURL, err := returnURLs(req.OriginURL)
	if err != nil {
		return Result{}, err
	}

	priceID, err := o.plans.Resolve(req.PlanKey, req.Cadence, billing.ProviderStripe)
	if err != nil {
		return Result{}, err
	}
	p, _ := o.plans.Plan(req.PlanKey)

	sess, err := o.sessions.CreateCheckoutSession(ctx, billingstripe.SessionParams{
		PriceID:        priceID,
		UserID:         strings.TrimSpace(req.UserID),
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		TrialDays:      p.TrialDays,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{SessionID: sess.ID, RedirectURL: sess.URL}, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.PlanKey) == "" {
		return &billing.InvalidRequestError{Field: "planId", Msg: "planId is required"}
	}
	if req.Cadence == "" {
		return &billing.InvalidRequestError{Field: "isYearly", Msg: "isYearly is required"}
	}
	if !req.Cadence.Valid() {
		return &billing.InvalidRequestError{Field: "isYearly", Msg: fmt.Sprintf("unknown cadence %q", req.Cadence)}
	}
	if strings.TrimSpace(req.UserID) == "" {
		return &billing.InvalidRequestError{Field: "userId", Msg: "userId is required"}
	}
	return nil
}

// returnURLs derives the success and cancel targets from the caller's
// origin by setting the checkout query marker.
func returnURLs(origin string) (success, cancel string, err error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", &billing.InvalidRequestError{Field: "origin", Msg: fmt.Sprintf("invalid origin %q", origin)}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	return withMarker(*u, "success"), withMarker(*u, "cancel"), nil
}

func withMarker(u url.URL, value string) string {
	q := u.Query()
	q.Set("checkout", value)
	u.RawQuery = q.Encode()
	return u.String()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, billing.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, billing.ErrConfiguration):
		return "misconfigured"
	default:
		return "upstream_error"
	}
}
