// Package metrics exposes Prometheus counters for authentication outcomes.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthMetrics records authentication outcomes. plane is "api" or "admin";
// reason is the machine-readable rejection code.
type AuthMetrics interface {
	IncAuthFailure(plane, reason string)
	IncAuthSuccess(plane string)
	IncIPBanned()
	IncTwoFactorChallenge(result string)
}

// Noop implements AuthMetrics without emitting anything.
type Noop struct{}

func (Noop) IncAuthFailure(string, string) {}
func (Noop) IncAuthSuccess(string) {}
func (Noop) IncIPBanned() {}
func (Noop) IncTwoFactorChallenge(string) {}

// Prom implements AuthMetrics backed by Prometheus counters.
type Prom struct {
	authFailures *prometheus.CounterVec
	authSuccess  *prometheus.CounterVec
	ipBans       prometheus.Counter
	twoFactor    *prometheus.CounterVec
	once         sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Authentication failures by plane and reason",
		}, []string{"plane", "reason"}),
		authSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_success_total",
			Help:      "Successful authentications by plane",
		}, []string{"plane"}),
		ipBans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_bans_total",
			Help:      "IP bans triggered by repeated failures",
		}),
		twoFactor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "two_factor_challenges_total",
			Help:      "Two-factor challenge outcomes",
		}, []string{"result"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.authFailures, p.authSuccess, p.ipBans, p.twoFactor)
	})
}

func (p *Prom) IncAuthFailure(plane, reason string) {
	p.authFailures.WithLabelValues(plane, reason).Inc()
}

func (p *Prom) IncAuthSuccess(plane string) {
	p.authSuccess.WithLabelValues(plane).Inc()
}

func (p *Prom) IncIPBanned() {
	p.ipBans.Inc()
}

func (p *Prom) IncTwoFactorChallenge(result string) {
	p.twoFactor.WithLabelValues(result).Inc()
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
