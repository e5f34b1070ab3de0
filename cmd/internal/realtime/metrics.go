package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pagespace",
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Number of registered websocket connections.",
	})

	metricEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pagespace",
		Subsystem: "realtime",
		Name:      "evictions_total",
		Help:      "Connections evicted because the same user reconnected.",
	})

	metricReaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagespace",
		Subsystem: "realtime",
		Name:      "reaps_total",
		Help:      "Connections removed by the stale connection sweep.",
	}, []string{"reason"})

	metricRevalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagespace",
		Subsystem: "realtime",
		Name:      "revalidations_total",
		Help:      "Session revalidation outcomes.",
	}, []string{"outcome"})

	metricChallenges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagespace",
		Subsystem: "realtime",
		Name:      "challenges_total",
		Help:      "Challenge verification outcomes.",
	}, []string{"outcome"})

	metricBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagespace",
		Subsystem: "realtime",
		Name:      "broadcast_deliveries_total",
		Help:      "Broadcast envelopes delivered, by channel kind.",
	}, []string{"kind"})
)
