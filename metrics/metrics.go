// Package metrics exposes the node's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts session creations.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hmsc",
		Name:      "sessions_created_total",
		Help:      "Number of signing sessions created.",
	})

	// SessionsTerminal counts sessions reaching a terminal state, by outcome.
	SessionsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hmsc",
		Name:      "sessions_terminal_total",
		Help:      "Number of sessions reaching a terminal state.",
	}, []string{"outcome"})

	// ActiveSessions tracks the number of non-terminal sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hmsc",
		Name:      "active_sessions",
		Help:      "Number of live, non-terminal sessions.",
	})

	// SignaturesAccepted counts verified, recorded signatures.
	SignaturesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hmsc",
		Name:      "signatures_accepted_total",
		Help:      "Number of signatures verified and counted.",
	})

	// SignaturesRejected counts refused signatures, by reason code.
	SignaturesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hmsc",
		Name:      "signatures_rejected_total",
		Help:      "Number of signatures rejected.",
	}, []string{"reason"})

	// ConnectedSubscribers tracks open websocket subscriptions.
	ConnectedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hmsc",
		Name:      "connected_subscribers",
		Help:      "Number of open coordinator and participant connections.",
	})

	// BroadcastsDropped counts subscribers disconnected for backpressure.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hmsc",
		Name:      "broadcasts_dropped_total",
		Help:      "Number of subscribers dropped due to outbound backpressure.",
	})
)
