package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tardy_requests_created_total",
		Help: "Tardy requests created.",
	})
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tardy_decisions_total",
		Help: "Tardy request decisions by verdict.",
	}, []string{"verdict"})
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hr_verifications_total",
		Help: "HR verification outcomes.",
	}, []string{"outcome"})
	GatewayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hr_gateway_failures_total",
		Help: "Failed best-effort calls to the HR gateway.",
	})
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_notify_failures_total",
		Help: "Failed best-effort chat notifications.",
	})
)
