package metrics

import (
	"net/http"
	"time"

	"waitroom/module/waitroom"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "waitroom"

// Observer exports the room's counters to Prometheus.
type Observer struct {
	reg *prometheus.Registry

	queueLength   prometheus.Gauge
	registered    prometheus.Counter
	rejected      prometheus.Counter
	removed       *prometheus.CounterVec
	broadcastSent prometheus.Histogram
	broadcastTook prometheus.Histogram
	sweepTook     prometheus.Histogram
	sweepEvicted  prometheus.Counter
	sweepSkipped  prometheus.Counter
}

var _ waitroom.Observer = (*Observer)(nil)

// New registers every collector on a fresh registry together with the Go
// and process collectors.
func New() *Observer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Observer{
		reg: reg,
		queueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_length",
			Help: "Users in the queue at the last broadcast.",
		}),
		registered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "registrations_total",
			Help: "Accepted registrations.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "registrations_rejected_total",
			Help: "Registrations refused because the user already had a live session.",
		}),
		removed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_removed_total",
			Help: "Sessions removed from the queue, by reason.",
		}, []string{"reason"}),
		broadcastSent: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "broadcast_recipients",
			Help:    "Sessions reached per broadcast.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		broadcastTook: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "broadcast_duration_seconds",
			Help:    "Time to recompute and push all positions.",
			Buckets: prometheus.DefBuckets,
		}),
		sweepTook: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_duration_seconds",
			Help:    "Time of one sweep including cleanup.",
			Buckets: prometheus.DefBuckets,
		}),
		sweepEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_evicted_total",
			Help: "Sessions evicted for a stale heartbeat.",
		}),
		sweepSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_skipped_total",
			Help: "Ticks skipped because the previous sweep was still running.",
		}),
	}
}

func (o *Observer) Registry() *prometheus.Registry { return o.reg }

// Handler serves the registry in the Prometheus text format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.reg, promhttp.HandlerOpts{})
}

func (o *Observer) QueueLength(n int) { o.queueLength.Set(float64(n)) }
func (o *Observer) Registered() { o.registered.Inc() }
func (o *Observer) Rejected() { o.rejected.Inc() }

func (o *Observer) Removed(reason waitroom.EventType) {
	o.removed.WithLabelValues(string(reason)).Inc()
}

func (o *Observer) Broadcast(recipients int, took time.Duration) {
	o.broadcastSent.Observe(float64(recipients))
	o.broadcastTook.Observe(took.Seconds())
}

func (o *Observer) Sweep(_, evicted int, took time.Duration) {
	o.sweepEvicted.Add(float64(evicted))
	o.sweepTook.Observe(took.Seconds())
}

func (o *Observer) SweepSkipped() { o.sweepSkipped.Inc() }
