package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/dukerupert/duobill/internal/billing"
)

type Config struct {
	SecretKey string
	// APIURL overrides https://api.stripe.com, for tests.
	APIURL     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	sessions checksession.Client
}

// NewClient builds a client with its own backend. Network retries are
// disabled; a failed call is reported to the caller as is.
func NewClient(cfg Config) *Client {
	bc := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}
	if cfg.Logger != nil {
		bc.LeveledLogger = &slogLogger{l: cfg.Logger}
	}
	return &Client{
		sessions: checksession.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, bc),
			Key: cfg.SecretKey,
		},
	}
}

// SessionParams describes one subscription checkout.
type SessionParams struct {
	PriceID        string
	UserID         string
	SuccessURL     string
	CancelURL      string
	TrialDays      int
	IdempotencyKey string
}

type Session struct {
	ID  string
	URL string
}

// CreateCheckoutSession creates a subscription-mode checkout session with a
// single line item and returns its id and redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, p SessionParams) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(p.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": p.UserID},
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(p.SuccessURL),
		CancelURL:           stripe.String(p.CancelURL),
	}
	if p.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(p.TrialDays))
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	sess, err := c.sessions.New(params)
	if err != nil {
		return nil, upstreamError(err)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func upstreamError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = string(se.Type)
		}
		return &billing.UpstreamBillingError{
			Provider: billing.ProviderStripe,
			Status:   se.HTTPStatusCode,
			Message:  msg,
			Err:      err,
		}
	}
	return &billing.UpstreamBillingError{
		Provider: billing.ProviderStripe,
		Message:  fmt.Sprintf("create checkout session: %v", err),
		Err:      err,
	}
}

// slogLogger routes stripe-go's leveled log lines into slog.
type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debugf(format string, v ...any) { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Infof(format string, v ...any)  { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Warnf(format string, v ...any)  { s.l.Warn(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Errorf(format string, v ...any) { s.l.Error(fmt.Sprintf(format, v...)) }
