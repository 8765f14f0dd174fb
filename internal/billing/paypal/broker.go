// Package paypal talks to PayPal's REST API from the server: it exchanges
// client credentials for access tokens and verifies billing plans.
package paypal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/duobill/internal/billing"
)

const (
	DefaultLiveBaseURL    = "https://api-m.paypal.com"
	DefaultSandboxBaseURL = "https://api-m.sandbox.paypal.com"

	tokenPath = "/v1/oauth2/token"

	// expirySkew treats a token as expired slightly before PayPal does.
	expirySkew = 60 * time.Second
	// defaultLifetime applies when the token response has no expires_in.
	defaultLifetime = 15 * time.Minute
	// exchangeTimeout bounds a shared exchange once no caller's ctx does.
	exchangeTimeout = 30 * time.Second
)

// Credentials are the server-held client id and secret for one environment.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func (c Credentials) complete() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// Config holds credentials and API endpoints for both environments.
type Config struct {
	Live           Credentials
	Sandbox        Credentials
	LiveBaseURL    string
	SandboxBaseURL string
	HTTPClient     *http.Client
}

// BaseURL returns the REST API root for env.
func (c Config) BaseURL(env billing.Environment) string {
	if env == billing.EnvSandbox {
		if c.SandboxBaseURL != "" {
			return strings.TrimRight(c.SandboxBaseURL, "/")
		}
		return DefaultSandboxBaseURL
	}
	if c.LiveBaseURL != "" {
		return strings.TrimRight(c.LiveBaseURL, "/")
	}
	return DefaultLiveBaseURL
}

func (c Config) credentials(env billing.Environment) Credentials {
	if env == billing.EnvSandbox {
		return c.Sandbox
	}
	return c.Live
}

// AccessToken is a bearer token for one environment. Its String and
// LogValue forms are redacted so it cannot leak through logs.
type AccessToken struct {
	Environment billing.Environment
	Value       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

func (t AccessToken) validAt(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-expirySkew))
}

func (t AccessToken) String() string { return "[redacted]" }

func (t AccessToken) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", string(t.Environment)),
		slog.Time("expires_at", t.ExpiresAt),
	)
}

// Metrics receives broker and verifier outcomes.
type Metrics interface {
	RecordTokenExchange(env string, ok bool)
	RecordPlanVerification(env string, ok bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordTokenExchange(string, bool)    {}
func (nopMetrics) RecordPlanVerification(string, bool) {}

// Broker exchanges client credentials for access tokens and reuses them
// until shortly before they expire. Safe for concurrent use.
type Broker struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    Metrics
	now        func() time.Time

	group  singleflight.Group
	mu     sync.RWMutex
	tokens map[billing.Environment]AccessToken
}

type BrokerOption func(*Broker)

func WithMetrics(m Metrics) BrokerOption {
	return func(b *Broker) {
		if m != nil {
			b.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

func withClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

func NewBroker(cfg Config, opts ...BrokerOption) *Broker {
	b := &Broker{
		cfg:        cfg,
		httpClient: cfg.HTTPClient,
		logger:     slog.Default(),
		metrics:    nopMetrics{},
		now:        time.Now,
		tokens:     make(map[billing.Environment]AccessToken),
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AccessToken returns a cached token for env or performs one
// client-credentials exchange. Concurrent misses share one exchange.
func (b *Broker) AccessToken(ctx context.Context, env billing.Environment) (AccessToken, error) {
	if _, err := billing.ParseEnvironment(string(env)); err != nil {
		return AccessToken{}, err
	}
	creds := b.cfg.credentials(env)
	if !creds.complete() {
		return AccessToken{}, &billing.MissingCredentialsError{Provider: billing.ProviderPayPal, Environment: env}
	}

	if tok, ok := b.cached(env); ok {
		return tok, nil
	}

	// The exchange outlives any one caller; each caller stops waiting on its
	// own ctx.
	ch := b.group.DoChan(string(env), func() (any, error) {
		if tok, ok := b.cached(env); ok {
			return tok, nil
		}
		xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeTimeout)
		defer cancel()
		tok, err := b.exchange(xctx, env, creds)
		b.metrics.RecordTokenExchange(string(env), err == nil)
		if err != nil {
			return AccessToken{}, err
		}
		b.mu.Lock()
		b.tokens[env] = tok
		b.mu.Unlock()
		b.logger.Debug("paypal token issued", "token", tok)
		return tok, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	}
}

// Invalidate drops the cached token for env so the next call re-fetches.
func (b *Broker) Invalidate(env billing.Environment) {
	b.mu.Lock()
	delete(b.tokens, env)
	b.mu.Unlock()
}

func (b *Broker) cached(env billing.Environment) (AccessToken, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tok, ok := b.tokens[env]
	if !ok || !tok.validAt(b.now()) {
		return AccessToken{}, false
	}
	return tok, true
}

func (b *Broker) exchange(ctx context.Context, env billing.Environment, creds Credentials) (AccessToken, error) {
	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     b.cfg.BaseURL(env) + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	issued := b.now()
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, b.httpClient))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return AccessToken{}, &billing.UpstreamAuthError{
				Provider: billing.ProviderPayPal,
				Status:   re.Response.StatusCode,
				Body:     string(re.Body),
				Err:      err,
			}
		}
		return AccessToken{}, &billing.UpstreamAuthError{Provider: billing.ProviderPayPal, Err: err}
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = issued.Add(defaultLifetime)
	}
	return AccessToken{
		Environment: env,
		Value:       tok.AccessToken,
		IssuedAt:    issued,
		ExpiresAt:   expires,
	}, nil
}
