// Package metrics holds the prometheus collectors of the signaling service.
// All methods are safe on a nil *Metrics so components can run unobserved.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intercom"

// Frame outcomes.
const (
	OutcomeForwarded = "forwarded"
	OutcomeReplied   = "replied"
	OutcomeDropped   = "dropped"
)

type Metrics struct {
	Registry *prometheus.Registry

	online             prometheus.Gauge
	activeCalls        prometheus.Gauge
	frames             *prometheus.CounterVec
	presenceBroadcasts *prometheus.CounterVec
	authFailures       prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_connections",
			Help:      "Identities with a live signaling connection.",
		}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Call sessions that are not idle.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound signaling frames by type and outcome.",
		}, []string{"type", "outcome", "reason"}),
		presenceBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_broadcasts_total",
			Help:      "Presence fan-outs by trigger.",
		}, []string{"trigger"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Connections closed because the credential did not resolve.",
		}),
	}
	reg.MustRegister(
		m.online, m.activeCalls, m.frames, m.presenceBroadcasts, m.authFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.activeCalls.Set(float64(n))
}

func (m *Metrics) Frame(msgType, outcome, reason string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(msgType, outcome, reason).Inc()
}

func (m *Metrics) PresenceBroadcast(trigger string) {
	if m == nil {
		return
	}
	m.presenceBroadcasts.WithLabelValues(trigger).Inc()
}

func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// FramesCounter exposes the frame counter for assertions.
func (m *Metrics) FramesCounter() *prometheus.CounterVec { return m.frames }

// OnlineGauge exposes the online gauge for assertions.
func (m *Metrics) OnlineGauge() prometheus.Gauge { return m.online }

// PresenceBroadcasts exposes the broadcast counter for assertions.
func (m *Metrics) PresenceBroadcasts() *prometheus.CounterVec { return m.presenceBroadcasts }
