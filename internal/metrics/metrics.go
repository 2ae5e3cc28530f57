package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node's counters. Fields are updated directly by the worker
// and exported through a private Prometheus registry.
type Metrics struct {
	FramesRead      atomic.Uint64
	Detections      atomic.Uint64
	Violations      atomic.Uint64
	UploadsOK       atomic.Uint64
	UploadsFailed   atomic.Uint64
	OutboxQueued    atomic.Uint64
	OutboxDelivered atomic.Uint64
	OutboxDead      atomic.Uint64
	Heartbeats      atomic.Uint64
	IterationErrors atomic.Uint64
	PublishErrors   atomic.Uint64

	iterationSeconds prometheus.Histogram
	registry         *prometheus.Registry
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FramesRead      uint64 `json:"frames_read"`
	Detections      uint64 `json:"detections"`
	Violations      uint64 `json:"violations"`
	UploadsOK       uint64 `json:"uploads_ok"`
	UploadsFailed   uint64 `json:"uploads_failed"`
	OutboxQueued    uint64 `json:"outbox_queued"`
	OutboxDelivered uint64 `json:"outbox_delivered"`
	OutboxDead      uint64 `json:"outbox_dead"`
	Heartbeats      uint64 `json:"heartbeats"`
	IterationErrors uint64 `json:"iteration_errors"`
	PublishErrors   uint64 `json:"publish_errors"`
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		iterationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "platenode_iteration_duration_seconds",
			Help:    "Duration of one capture-detect-report iteration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	counters := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"platenode_frames_read_total", "Frames read from the video source", &m.FramesRead},
		{"platenode_detections_total", "Detection records produced", &m.Detections},
		{"platenode_speed_violations_total", "Detections above the speed limit", &m.Violations},
		{"platenode_uploads_ok_total", "Detections accepted by the hub", &m.UploadsOK},
		{"platenode_uploads_failed_total", "Detections the hub did not accept after all retries", &m.UploadsFailed},
		{"platenode_outbox_queued_total", "Detections parked in the outbox", &m.OutboxQueued},
		{"platenode_outbox_delivered_total", "Outbox entries delivered on a later attempt", &m.OutboxDelivered},
		{"platenode_outbox_dead_total", "Outbox entries given up after too many failed deliveries", &m.OutboxDead},
		{"platenode_heartbeats_total", "Heartbeats delivered to the hub", &m.Heartbeats},
		{"platenode_iteration_errors_total", "Worker iterations that ended in an error", &m.IterationErrors},
		{"platenode_publish_errors_total", "Failed Kafka publishes", &m.PublishErrors},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}
	m.registry.MustRegister(m.iterationSeconds)
}

func (m *Metrics) ObserveIteration(d time.Duration) {
	m.iterationSeconds.Observe(d.Seconds())
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesRead:      m.FramesRead.Load(),
		Detections:      m.Detections.Load(),
		Violations:      m.Violations.Load(),
		UploadsOK:       m.UploadsOK.Load(),
		UploadsFailed:   m.UploadsFailed.Load(),
		OutboxQueued:    m.OutboxQueued.Load(),
		OutboxDelivered: m.OutboxDelivered.Load(),
		OutboxDead:      m.OutboxDead.Load(),
		Heartbeats:      m.Heartbeats.Load(),
		IterationErrors: m.IterationErrors.Load(),
		PublishErrors:   m.PublishErrors.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
