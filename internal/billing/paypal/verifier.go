package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/duobill/internal/billing"
)

const (
	plansPath          = "/v1/billing/plans/"
	defaultConcurrency = 4
	maxErrorBody       = 64 << 10
)

// TokenSource issues access tokens per environment. *Broker implements it.
type TokenSource interface {
	AccessToken(ctx context.Context, env billing.Environment) (AccessToken, error)
	Invalidate(env billing.Environment)
}

// Money is a decimal amount as PayPal reports it.
type Money struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// BillingCycle summarizes one entry of a plan's billing_cycles.
type BillingCycle struct {
	Cadence     string `json:"cadence"`
	TenureType  string `json:"tenureType"`
	Sequence    int    `json:"sequence"`
	TotalCycles int    `json:"totalCycles"`
	FixedPrice  *Money `json:"fixedPrice,omitempty"`
}

// PlanVerificationResult is the outcome for one requested plan id.
type PlanVerificationResult struct {
	ID            string         `json:"id"`
	OK            bool           `json:"ok"`
	Status        string         `json:"status,omitempty"`
	Name          string         `json:"name,omitempty"`
	ProductID     string         `json:"productId,omitempty"`
	BillingCycles []BillingCycle `json:"billingCycles,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// planResponse is the subset of GET /v1/billing/plans/{id} we read.
type planResponse struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	BillingCycles []struct {
		Frequency struct {
			IntervalUnit  string `json:"interval_unit"`
			IntervalCount int    `json:"interval_count"`
		} `json:"frequency"`
		TenureType    string `json:"tenure_type"`
		Sequence      int    `json:"sequence"`
		TotalCycles   int    `json:"total_cycles"`
		PricingScheme struct {
			FixedPrice *struct {
				Value        string `json:"value"`
				CurrencyCode string `json:"currency_code"`
			} `json:"fixed_price"`
		} `json:"pricing_scheme"`
	} `json:"billing_cycles"`
}

// Verifier fetches and normalizes plan details for a batch of ids.
type Verifier struct {
	tokens      TokenSource
	baseURL     func(billing.Environment) string
	httpClient  *http.Client
	concurrency int
	logger      *slog.Logger
	metrics     Metrics
}

type VerifierOption func(*Verifier)

func WithConcurrency(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

func WithVerifierMetrics(m Metrics) VerifierOption {
	return func(v *Verifier) {
		if m != nil {
			v.metrics = m
		}
	}
}

func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVerifier builds a verifier that uses tokens for auth and cfg for
// endpoints and the HTTP client.
func NewVerifier(tokens TokenSource, cfg Config, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		tokens:      tokens,
		baseURL:     cfg.BaseURL,
		httpClient:  cfg.HTTPClient,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		metrics:     nopMetrics{},
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyPlans returns one result per id, in input order. A failure for one
// id is recorded in its result and never stops the others.
func (v *Verifier) VerifyPlans(ctx context.Context, env billing.Environment, ids []string) ([]PlanVerificationResult, error) {
	if len(ids) == 0 {
		return nil, &billing.InvalidRequestError{Field: "plans", Msg: "at least one plan id is required"}
	}
	tok, err := v.tokens.AccessToken(ctx, env)
	if err != nil {
		return nil, err
	}

	results := make([]PlanVerificationResult, len(ids))
	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = v.verifyOne(ctx, env, tok, id)
			v.metrics.RecordPlanVerification(string(env), results[i].OK)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// verifyOne reports under the id exactly as given; only the lookup trims it.
func (v *Verifier) verifyOne(ctx context.Context, env billing.Environment, tok AccessToken, id string) PlanVerificationResult {
	lookup := strings.TrimSpace(id)
	if lookup == "" {
		return PlanVerificationResult{ID: id, Error: "plan id is empty"}
	}
	plan, err := v.fetchPlan(ctx, env, tok, lookup)
	if err != nil {
		v.logger.Warn("plan verification failed", "env", env, "plan_id", lookup, "error", err)
		return PlanVerificationResult{ID: id, Error: err.Error()}
	}

	res := PlanVerificationResult{
		ID:        id,
		OK:        true,
		Status:    plan.Status,
		Name:      plan.Name,
		ProductID: plan.ProductID,
	}
	for _, bc := range plan.BillingCycles {
		cycle := BillingCycle{
			Cadence:     cadenceSummary(bc.Frequency.IntervalCount, bc.Frequency.IntervalUnit),
			TenureType:  bc.TenureType,
			Sequence:    bc.Sequence,
			TotalCycles: bc.TotalCycles,
		}
		if fp := bc.PricingScheme.FixedPrice; fp != nil {
			cycle.FixedPrice = &Money{Value: fp.Value, Currency: fp.CurrencyCode}
		}
		res.BillingCycles = append(res.BillingCycles, cycle)
	}
	return res
}

// fetchError carries the upstream status and body of a failed GET.
type fetchError struct {
	Status int
	Body   string
}

func (e *fetchError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

func (v *Verifier) fetchPlan(ctx context.Context, env billing.Environment, tok AccessToken, id string) (*planResponse, error) {
	var plan planResponse
	if err := v.get(ctx, env, tok, plansPath+url.PathEscape(id), "plan", &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// get fetches one billing resource into out. A 401 drops the env's token.
func (v *Verifier) get(ctx context.Context, env billing.Environment, tok AccessToken, path, what string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL(env)+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized {
			v.tokens.Invalidate(env)
		}
		return &fetchError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

func cadenceSummary(count int, unit string) string {
	if unit == "" {
		return ""
	}
	if count <= 0 {
		count = 1
	}
	return strconv.Itoa(count) + " " + unit
}
