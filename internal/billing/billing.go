// Package billing holds the types shared by the checkout and PayPal
// components: cadences, providers, environments and the error taxonomy.
package billing

import "fmt"

// Cadence is the billing interval of a subscription.
type Cadence string

const (
	CadenceMonthly Cadence = "monthly"
	CadenceYearly  Cadence = "yearly"
)

// CadenceFromYearly maps the isYearly flag sent by the pricing page.
func CadenceFromYearly(yearly bool) Cadence {
	if yearly {
		return CadenceYearly
	}
	return CadenceMonthly
}

func (c Cadence) Valid() bool {
	return c == CadenceMonthly || c == CadenceYearly
}

// Cadences lists every supported cadence in display order.
func Cadences() []Cadence {
	return []Cadence{CadenceMonthly, CadenceYearly}
}

// Provider identifies a payment provider.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// Environment selects the live or sandbox deployment of a provider.
type Environment string

const (
	EnvLive    Environment = "live"
	EnvSandbox Environment = "sandbox"
)

// ParseEnvironment accepts exactly "live" or "sandbox".
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvLive:
		return EnvLive, nil
	case EnvSandbox:
		return EnvSandbox, nil
	}
	return "", &InvalidRequestError{Field: "env", Msg: fmt.Sprintf("unknown environment %q", s)}
}

// EnvironmentFromQuery is the lenient form used by the verification
// endpoint: anything other than exactly "sandbox" means live.
func EnvironmentFromQuery(s string) Environment {
	if s == string(EnvSandbox) {
		return EnvSandbox
	}
	return EnvLive
}
