// Package metrics exposes billing outcomes to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the metrics interfaces of the paypal and checkout
// packages and the subscription link handler.
type Collector struct {
	tokenExchanges    *prometheus.CounterVec
	planVerifications *prometheus.CounterVec
	checkouts         *prometheus.CounterVec
	checkoutLatency   prometheus.Histogram
	links             *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duobill_paypal_token_exchanges_total",
			Help: "PayPal client-credentials exchanges by environment and result.",
		}, []string{"env", "ok"}),
		planVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duobill_paypal_plan_verifications_total",
			Help: "PayPal plan lookups by environment and result.",
		}, []string{"env", "ok"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duobill_checkout_sessions_total",
			Help: "Checkout session attempts by outcome.",
		}, []string{"outcome"}),
		checkoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "duobill_checkout_session_seconds",
			Help:    "Time spent creating a checkout session.",
			Buckets: prometheus.DefBuckets,
		}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duobill_subscription_links_total",
			Help: "Recorded PayPal subscription approvals; created is false for duplicates.",
		}, []string{"created"}),
	}

	reg.MustRegister(
		c.tokenExchanges,
		c.planVerifications,
		c.checkouts,
		c.checkoutLatency,
		c.links,
	)
	return c
}

func (c *Collector) RecordTokenExchange(env string, ok bool) {
	c.tokenExchanges.WithLabelValues(env, strconv.FormatBool(ok)).Inc()
}

func (c *Collector) RecordPlanVerification(env string, ok bool) {
	c.planVerifications.WithLabelValues(env, strconv.FormatBool(ok)).Inc()
}

func (c *Collector) RecordCheckout(outcome string, d time.Duration) {
	c.checkouts.WithLabelValues(outcome).Inc()
	c.checkoutLatency.Observe(d.Seconds())
}

func (c *Collector) RecordSubscriptionLink(created bool) {
	c.links.WithLabelValues(strconv.FormatBool(created)).Inc()
}

// Handler serves the gathered metrics for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
