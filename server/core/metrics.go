package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "arenanet"

// Metrics are the server's Prometheus instruments. Each Server registers its
// own set so several servers can share a process.
type Metrics struct {
	snapshotsSent  *prometheus.CounterVec
	snapshotBytes  prometheus.Histogram
	entityRecords  *prometheus.CounterVec
	resyncs        *prometheus.CounterVec
	packetsDropped *prometheus.CounterVec
	disconnects    *prometheus.CounterVec
	clients        prometheus.Gauge
	entities       prometheus.Gauge
	tickDuration   prometheus.Histogram
}

// NewMetrics registers the server instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		snapshotsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snapshots_sent_total",
			Help:      "Snapshots sent to clients, by encoding",
		}, []string{"kind"}),
		snapshotBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_packet_bytes",
			Help:      "Size of snapshot datagrams",
			Buckets:   []float64{16, 32, 64, 128, 256, 512, 1024, 1400, 4096},
		}),
		entityRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entity_records_total",
			Help:      "Entity records written into snapshots, by op",
		}, []string{"op"}),
		resyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resyncs_total",
			Help:      "Clients forced back to full snapshots, by reason",
		}, []string{"reason"}),
		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_dropped_total",
			Help:      "Incoming packets discarded, by reason",
		}, []string{"reason"}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "Clients dropped, by reason",
		}, []string{"reason"}),
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "clients_connected",
			Help:      "Connected clients",
		}),
		entities: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "entities",
			Help:      "Entities in the last sealed snapshot",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one server frame",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}
