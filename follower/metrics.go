package follower

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSet holds the Prometheus collectors the FollowerLoop updates each
// tick: one vector per observable, labeled by authz server name so multiple
// followers can share a registry.
type metricsSet struct {
	maxNotificationID *prometheus.GaugeVec
	lastImageID       *prometheus.GaugeVec
	connected         *prometheus.GaugeVec
	snapshotsTaken    prometheus.Counter
	tickDuration      prometheus.Histogram

	labels prometheus.Labels
}

var (
	collectorsOnce sync.Once

	maxNotificationIDGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metafollower_max_notification_id",
			Help: "Highest upstream event id fully applied.",
		},
		[]string{"authz_server"},
	)
	lastImageIDGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metafollower_last_image_id",
			Help: "Id of the most recently persisted full snapshot.",
		},
		[]string{"authz_server"},
	)
	connectedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metafollower_connected_to_hms",
			Help: "1 if the follower currently holds an upstream connection, 0 otherwise.",
		},
		[]string{"authz_server"},
	)
	snapshotsTakenCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metafollower_full_snapshots_total",
			Help: "Number of full snapshots taken.",
		},
		[]string{"authz_server"},
	)
	tickDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metafollower_tick_duration_seconds",
			Help:    "Wall-clock duration of a single follower tick.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"authz_server"},
	)
)

func newMetricsSet(authzServerName string) *metricsSet {
	collectorsOnce.Do(func() {
		prometheus.MustRegister(
			maxNotificationIDGauge,
			lastImageIDGauge,
			connectedGauge,
			snapshotsTakenCounter,
			tickDurationHistogram,
		)
	})

	labels := prometheus.Labels{"authz_server": authzServerName}
	return &metricsSet{
		maxNotificationID: maxNotificationIDGauge,
		lastImageID:       lastImageIDGauge,
		connected:         connectedGauge,
		snapshotsTaken:    snapshotsTakenCounter.With(labels),
		tickDuration:      tickDurationHistogram.With(labels),
		labels:            labels,
	}
}

func (m *metricsSet) setMaxNotificationID(v int64) {
	m.maxNotificationID.With(m.labels).Set(float64(v))
}

func (m *metricsSet) setLastImageID(v int64) {
	m.lastImageID.With(m.labels).Set(float64(v))
}

func (m *metricsSet) setConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.connected.With(m.labels).Set(v)
}
