package dispatch

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder observes Attempts as they complete.
type Recorder interface {
	InFlight(delta int)
	Observe(mode Mode, outcome Outcome)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) InFlight(int)          {}
func (NopRecorder) Observe(Mode, Outcome) {}

// PrometheusRecorder exports attempt counters and latencies.
type PrometheusRecorder struct {
	attempts *prometheus.CounterVec
	records  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logbench",
			Name:      "attempts_total",
			Help:      "Attempts issued against the ingestion service.",
		}, []string{"mode", "status", "reason"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logbench",
			Name:      "records_total",
			Help:      "Log records carried by attempts.",
		}, []string{"mode", "success"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "logbench",
			Name:      "attempt_latency_seconds",
			Help:      "Latency of attempts.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2},
		}, []string{"mode"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "logbench",
			Name:      "attempts_in_flight",
			Help:      "Attempts currently admitted and awaiting a response.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.attempts, r.records, r.latency, r.inflight)
	}
	return r
}

func (r *PrometheusRecorder) InFlight(delta int) {
	r.inflight.Add(float64(delta))
}

func (r *PrometheusRecorder) Observe(mode Mode, outcome Outcome) {
	r.attempts.WithLabelValues(string(mode), strconv.Itoa(outcome.Status), string(outcome.Reason)).Inc()
	r.records.WithLabelValues(string(mode), strconv.FormatBool(outcome.Success)).Add(float64(outcome.Count))
	r.latency.WithLabelValues(string(mode)).Observe(outcome.Latency / 1000)
}
