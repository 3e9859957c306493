// Package obs holds process-wide observability: Prometheus collectors and the
// /metrics handler.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardcore_login_attempts_total",
		Help: "Login attempts by guard and outcome.",
	}, []string{"guard", "outcome"})

	lockouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardcore_account_lockouts_total",
		Help: "Account lockouts armed after repeated failures.",
	}, []string{"guard"})

	tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardcore_tokens_issued_total",
		Help: "Opaque bearer tokens issued.",
	}, []string{"guard"})
)

// ObserveLogin records one login attempt outcome. Outcome values mirror the
// engine's error codes plus "success".
func ObserveLogin(guard, outcome string) {
	loginAttempts.WithLabelValues(guard, outcome).Inc()
}

func ObserveLockout(guard string) {
	lockouts.WithLabelValues(guard).Inc()
}

func ObserveTokenIssued(guard string) {
	tokensIssued.WithLabelValues(guard).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
