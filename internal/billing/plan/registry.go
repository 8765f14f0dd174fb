// Package plan maps commercial plan keys and cadences to provider price and
// plan identifiers.
package plan

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/duobill/internal/billing"
)

const (
	DefaultCurrency  = "USD"
	DefaultTrialDays = 7
)

// Plan is one sellable plan. It is immutable once the registry is built.
type Plan struct {
	Key          string                     `yaml:"-" json:"key"`
	StripePrices map[billing.Cadence]string `yaml:"stripe" json:"-"`
	PayPalPlans  map[billing.Cadence]string `yaml:"paypal" json:"paypal"`
	Currency     string                     `yaml:"currency" json:"currency"`
	TrialDays    int                        `yaml:"trial_days" json:"trialDays"`
}

// Defaults fill fields a plan leaves empty.
type Defaults struct {
	Currency  string
	TrialDays int
}

// Registry is a read-only lookup table, safe for concurrent use.
type Registry struct {
	plans    map[string]Plan
	defaults Defaults
}

type fileFormat struct {
	Currency  string          `yaml:"currency"`
	TrialDays int             `yaml:"trial_days"`
	Plans     map[string]Plan `yaml:"plans"`
}

// New builds a registry from the given plans, applying defaults.
func New(plans []Plan, d Defaults) *Registry {
	if d.Currency == "" {
		d.Currency = DefaultCurrency
	}
	if d.TrialDays == 0 {
		d.TrialDays = DefaultTrialDays
	}
	r := &Registry{plans: make(map[string]Plan, len(plans)), defaults: d}
	for _, p := range plans {
		p.Key = normalizeKey(p.Key)
		if p.Key == "" {
			continue
		}
		p.StripePrices = copyIDs(p.StripePrices)
		p.PayPalPlans = copyIDs(p.PayPalPlans)
		if p.Currency == "" {
			p.Currency = d.Currency
		}
		if p.TrialDays == 0 {
			p.TrialDays = d.TrialDays
		}
		r.plans[p.Key] = p
	}
	return r
}

// Parse reads a YAML plan file. File-level currency and trial_days override
// the given defaults; plan-level values override both.
func Parse(data []byte, d Defaults) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &billing.ConfigurationError{Msg: fmt.Sprintf("parse plans: %v", err)}
	}
	if f.Currency != "" {
		d.Currency = f.Currency
	}
	if f.TrialDays != 0 {
		d.TrialDays = f.TrialDays
	}
	plans := make([]Plan, 0, len(f.Plans))
	for key, p := range f.Plans {
		p.Key = key
		for c := range p.StripePrices {
			if !c.Valid() {
				return nil, &billing.ConfigurationError{Msg: fmt.Sprintf("plan %s: unknown cadence %q", key, c)}
			}
		}
		for c := range p.PayPalPlans {
			if !c.Valid() {
				return nil, &billing.ConfigurationError{Msg: fmt.Sprintf("plan %s: unknown cadence %q", key, c)}
			}
		}
		plans = append(plans, p)
	}
	return New(plans, d), nil
}

// LoadFile reads and parses a YAML plan file.
func LoadFile(path string, d Defaults) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return Parse(data, d)
}

// WithEnv returns a copy of r where every identifier can be overridden from
// the environment: STRIPE_PRICE_<PLAN>_<CADENCE> and PAYPAL_PLAN_<PLAN>_<CADENCE>.
// Keys not yet present in r are added when at least one variable is set.
func (r *Registry) WithEnv(keys []string, lookup func(string) (string, bool)) *Registry {
	d := r.defaults
	out := &Registry{plans: make(map[string]Plan, len(r.plans)+len(keys)), defaults: d}
	for k, p := range r.plans {
		p.StripePrices = copyIDs(p.StripePrices)
		p.PayPalPlans = copyIDs(p.PayPalPlans)
		out.plans[k] = p
	}

	all := append([]string{}, keys...)
	for k := range r.plans {
		all = append(all, k)
	}
	for _, key := range all {
		key = normalizeKey(key)
		if key == "" {
			continue
		}
		p, exists := out.plans[key]
		if !exists {
			p = Plan{
				Key:          key,
				StripePrices: map[billing.Cadence]string{},
				PayPalPlans:  map[billing.Cadence]string{},
				Currency:     d.Currency,
				TrialDays:    d.TrialDays,
			}
		}
		found := false
		for _, c := range billing.Cadences() {
			suffix := strings.ToUpper(key + "_" + string(c))
			if v, ok := lookup("STRIPE_PRICE_" + suffix); ok && v != "" {
				p.StripePrices[c] = strings.TrimSpace(v)
				found = true
			}
			if v, ok := lookup("PAYPAL_PLAN_" + suffix); ok && v != "" {
				p.PayPalPlans[c] = strings.TrimSpace(v)
				found = true
			}
		}
		if exists || found {
			out.plans[key] = p
		}
	}
	return out
}

// Resolve returns the provider identifier for a plan and cadence. Partial
// configuration is an error, never a fallback to another cadence.
func (r *Registry) Resolve(key string, cadence billing.Cadence, provider billing.Provider) (string, error) {
	p, ok := r.plans[normalizeKey(key)]
	if !ok {
		return "", &billing.ConfigurationError{Msg: fmt.Sprintf("unknown plan %q", key)}
	}
	var ids map[billing.Cadence]string
	switch provider {
	case billing.ProviderStripe:
		ids = p.StripePrices
	case billing.ProviderPayPal:
		ids = p.PayPalPlans
	default:
		return "", &billing.ConfigurationError{Msg: fmt.Sprintf("unknown provider %q", provider)}
	}
	id := ids[cadence]
	if id == "" {
		return "", &billing.ConfigurationError{Msg: fmt.Sprintf("plan %s has no %s %s identifier", p.Key, provider, cadence)}
	}
	return id, nil
}

// Plan returns the plan for key.
func (r *Registry) Plan(key string) (Plan, bool) {
	p, ok := r.plans[normalizeKey(key)]
	return p, ok
}

// Keys returns every plan key, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.plans))
	for k := range r.plans {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Plans returns every plan ordered by key.
func (r *Registry) Plans() []Plan {
	out := make([]Plan, 0, len(r.plans))
	for _, k := range r.Keys() {
		out = append(out, r.plans[k])
	}
	return out
}

// PayPalPlanIDs returns every configured PayPal plan id, sorted and unique.
func (r *Registry) PayPalPlanIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range r.plans {
		for _, id := range p.PayPalPlans {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Validate reports every empty cell of the plan/cadence/provider matrix.
func (r *Registry) Validate() error {
	var errs []error
	for _, key := range r.Keys() {
		for _, provider := range []billing.Provider{billing.ProviderStripe, billing.ProviderPayPal} {
			for _, c := range billing.Cadences() {
				if _, err := r.Resolve(key, c, provider); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func copyIDs(in map[billing.Cadence]string) map[billing.Cadence]string {
	out := make(map[billing.Cadence]string, len(in))
	for c, id := range in {
		out[c] = strings.TrimSpace(id)
	}
	return out
}
