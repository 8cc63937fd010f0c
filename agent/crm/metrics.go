package crm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Name:      "token_refresh_total",
			Help:      "Token refresh attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	authRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Name:      "auth_retry_total",
			Help:      "Calls retried once after an invalid-token answer.",
		},
		[]string{"provider"},
	)
)
