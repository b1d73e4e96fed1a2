// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	AuthFailures   *prometheus.CounterVec
	Logins         *prometheus.CounterVec
	Registrations  *prometheus.CounterVec
	Rehashes       prometheus.Counter
	SpendingAlerts *prometheus.CounterVec
	Requests       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Rejected session tokens by reason.",
		}, []string{"reason"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		Rehashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "password_rehashes_total",
			Help: "Stored password digests upgraded after login.",
		}),
		SpendingAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spending_alerts_total",
			Help: "Weekly limit alerts published by threshold.",
		}, []string{"threshold"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AuthFailures,
		m.Logins,
		m.Registrations,
		m.Rehashes,
		m.SpendingAlerts,
		m.Requests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
