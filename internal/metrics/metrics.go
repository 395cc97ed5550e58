// Package metrics holds the Prometheus collectors for authentication events.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event names used as the "event" label of AuthEvents.
const (
	EventSignup = "signup"
	EventLogin  = "login"
	EventLogout = "logout"
	EventVerify = "verify_email"
	EventResend = "resend_verification"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Metrics struct {
	AuthEvents      *prometheus.CounterVec
	SessionRenewals prometheus.Counter
	SessionsCleared prometheus.Counter
	EmailFailures   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_auth_events_total",
				Help: "Authentication use case outcomes by event",
			},
			[]string{"event", "outcome"},
		),
		SessionRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_session_renewals_total",
			Help: "Sessions whose expiry was extended during validation",
		}),
		SessionsCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_session_cookies_cleared_total",
			Help: "Requests whose presented session cookie no longer resolved",
		}),
		EmailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_email_failures_total",
			Help: "Outbound email deliveries that failed",
		}),
	}

	reg.MustRegister(m.AuthEvents, m.SessionRenewals, m.SessionsCleared, m.EmailFailures)
	return m
}

// NewRegistry returns a registry with the Go and process collectors and
// the auth metrics registered.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, NewMetrics(reg)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Record increments the counter for event with the given outcome.
// A nil receiver is a no-op.
func (m *Metrics) Record(event, outcome string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) RecordRenewal() {
	if m == nil {
		return
	}
	m.SessionRenewals.Inc()
}

func (m *Metrics) RecordCleared() {
	if m == nil {
		return
	}
	m.SessionsCleared.Inc()
}

// Mailer matches the auth and email packages' delivery interface.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

type countingMailer struct {
	next    Mailer
	metrics *Metrics
}

func (c countingMailer) Send(ctx context.Context, to, subject, text, html string) error {
	err := c.next.Send(ctx, to, subject, text, html)
	if err != nil && c.metrics != nil {
		c.metrics.EmailFailures.Inc()
	}
	return err
}

// CountMailer wraps next so that failed deliveries are counted.
func CountMailer(next Mailer, m *Metrics) Mailer {
	return countingMailer{next: next, metrics: m}
}
