package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollCycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "poll_cycle_latency_seconds",
		Help: "Latency of one fetch-aggregate-publish cycle",
	}, []string{"result"})

	PollCycleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poll_cycle_failures_total",
		Help: "Total number of failed poll cycles",
	})

	AccountFetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "account_fetch_retries_total",
		Help: "Total number of account fetch retry attempts",
	})

	PriceFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_fetch_failures_total",
		Help: "Total number of price fetches degraded to zero",
	}, []string{"token"})

	SnapshotsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshots_published_total",
		Help: "Total number of snapshots published to subscribers",
	}, []string{"status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Total number of active WebSocket connections",
	})
)
