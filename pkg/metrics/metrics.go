// Package metrics exposes Prometheus collectors for sync streams.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shawkym/matrixsync/pkg/matrix"
)

const namespace = "matrixsync"

// Metrics holds the collectors and implements matrix.SyncObserver.
type Metrics struct {
	SyncRequestsTotal   *prometheus.CounterVec
	SyncRequestDuration *prometheus.HistogramVec
	SnapshotsTotal      prometheus.Counter
	EventsTotal         prometheus.Counter
	RoomUpdatesTotal    prometheus.Counter
	ActiveStreams       prometheus.Gauge
	LastSnapshotTime    prometheus.Gauge
	StreamRestarts      *prometheus.CounterVec
}

var _ matrix.SyncObserver = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_requests_total",
			Help:      "Sync calls by outcome.",
		}, []string{"outcome"}),
		SyncRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_request_duration_seconds",
			Help:      "Sync call duration, including the long-poll wait.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots delivered to consumers.",
		}),
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events contained in delivered snapshots.",
		}),
		RoomUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_updates_total",
			Help:      "Room entries contained in delivered snapshots.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Sync streams currently running.",
		}),
		LastSnapshotTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_snapshot_timestamp_seconds",
			Help:      "Unix time of the last delivered snapshot.",
		}),
		StreamRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_restarts_total",
			Help:      "Streams started again after a failure, by the outcome that ended them.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.SyncRequestsTotal,
		m.SyncRequestDuration,
		m.SnapshotsTotal,
		m.EventsTotal,
		m.RoomUpdatesTotal,
		m.ActiveStreams,
		m.LastSnapshotTime,
		m.StreamRestarts,
	)
	return m
}

// SyncFinished records one sync call.
func (m *Metrics) SyncFinished(outcome matrix.SyncOutcome, elapsed time.Duration) {
	m.SyncRequestsTotal.WithLabelValues(string(outcome)).Inc()
	m.SyncRequestDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// SnapshotEmitted records one delivered snapshot.
func (m *Metrics) SnapshotEmitted(snapshot *matrix.SyncResponse) {
	m.SnapshotsTotal.Inc()
	m.EventsTotal.Add(float64(matrix.EventCount(snapshot)))
	m.RoomUpdatesTotal.Add(float64(matrix.RoomCount(snapshot)))
	m.LastSnapshotTime.SetToCurrentTime()
}

// TrackStream increments the active stream gauge until stream terminates.
func (m *Metrics) TrackStream(stream *matrix.Stream) {
	m.ActiveStreams.Inc()
	go func() {
		<-stream.Done()
		m.ActiveStreams.Dec()
	}()
}

// StreamRestarted records a restart after a stream failed with err.
func (m *Metrics) StreamRestarted(err error) {
	m.StreamRestarts.WithLabelValues(string(matrix.ClassifyError(err))).Inc()
}
