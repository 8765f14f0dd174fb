// Package config loads the billing service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/paypal"
	"github.com/dukerupert/duobill/internal/billing/plan"
)

var ErrParsingConfig = errors.New("failed to parse environment variables into config")

type Config struct {
	Port      string `env:"BILLING_PORT" envDefault:"8090"`
	BaseURL   string `env:"BILLING_BASE_URL"`
	LogLevel  string `env:"BILLING_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BILLING_LOG_FORMAT" envDefault:"text"`
	DBPath    string `env:"BILLING_DB_PATH" envDefault:"billing.db"`

	PlansFile      string   `env:"BILLING_PLANS_FILE"`
	PlanKeys       []string `env:"BILLING_PLAN_KEYS" envSeparator:"," envDefault:"pro,family"`
	AllowedOrigins []string `env:"BILLING_ALLOWED_ORIGINS" envSeparator:","`
	Currency       string   `env:"BILLING_CURRENCY" envDefault:"USD"`
	TrialDays      int      `env:"BILLING_TRIAL_DAYS" envDefault:"7"`

	Stripe StripeConfig
	PayPal PayPalConfig

	lookup func(string) (string, bool)
}

type StripeConfig struct {
	SecretKey string `env:"STRIPE_SECRET_KEY"`
	APIURL    string `env:"STRIPE_API_URL"`
}

type PayPalConfig struct {
	ClientID            string `env:"PAYPAL_CLIENT_ID"`
	ClientSecret        string `env:"PAYPAL_CLIENT_SECRET"`
	SandboxClientID     string `env:"PAYPAL_SANDBOX_CLIENT_ID"`
	SandboxClientSecret string `env:"PAYPAL_SANDBOX_CLIENT_SECRET"`
	DefaultEnv          string `env:"PAYPAL_DEFAULT_ENV" envDefault:"live"`
	APIBaseURL          string `env:"PAYPAL_API_BASE_URL"`
	SandboxAPIBaseURL   string `env:"PAYPAL_SANDBOX_API_BASE_URL"`
}

// Load reads a .env file if one exists, then the process environment.
func Load() (*Config, error) {
	// the .env file is optional
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	cfg.lookup = os.LookupEnv
	return &cfg, cfg.finish()
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	cfg.lookup = func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
	return &cfg, cfg.finish()
}

func (c *Config) finish() error {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:" + c.Port
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("BILLING_LOG_FORMAT: want text or json, got %q", c.LogFormat)
	}
	if _, err := billing.ParseEnvironment(c.PayPal.DefaultEnv); err != nil {
		return fmt.Errorf("PAYPAL_DEFAULT_ENV: %w", err)
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("BILLING_TRIAL_DAYS: must not be negative, got %d", c.TrialDays)
	}

	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
	return nil
}

// DefaultPayPalEnv is the environment the public config and CLI use when
// none is given.
func (c *Config) DefaultPayPalEnv() billing.Environment {
	env, _ := billing.ParseEnvironment(c.PayPal.DefaultEnv)
	return env
}

// PayPalClient returns the broker and verifier configuration.
func (c *Config) PayPalClient() paypal.Config {
	return paypal.Config{
		Live:           paypal.Credentials{ClientID: c.PayPal.ClientID, ClientSecret: c.PayPal.ClientSecret},
		Sandbox:        paypal.Credentials{ClientID: c.PayPal.SandboxClientID, ClientSecret: c.PayPal.SandboxClientSecret},
		LiveBaseURL:    c.PayPal.APIBaseURL,
		SandboxBaseURL: c.PayPal.SandboxAPIBaseURL,
	}
}

// PublicClientID is the client id handed to the browser for env. It is not
// a secret.
func (c *Config) PublicClientID(env billing.Environment) string {
	if env == billing.EnvSandbox {
		return c.PayPal.SandboxClientID
	}
	return c.PayPal.ClientID
}

// Plans builds the plan registry from the optional plans file, then applies
// STRIPE_PRICE_* and PAYPAL_PLAN_* overrides.
func (c *Config) Plans() (*plan.Registry, error) {
	d := plan.Defaults{Currency: c.Currency, TrialDays: c.TrialDays}
	reg := plan.New(nil, d)
	if c.PlansFile != "" {
		var err error
		reg, err = plan.LoadFile(c.PlansFile, d)
		if err != nil {
			return nil, err
		}
	}
	lookup := c.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return reg.WithEnv(c.PlanKeys, lookup), nil
}
