package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// Prometheus holds the exported metrics of a simulation.
type Prometheus struct {
	TxTotal      *prometheus.CounterVec
	ErrorsTotal  *prometheus.CounterVec
	RetriesTotal *prometheus.CounterVec

	TargetTPS prometheus.Gauge
	InFlight  prometheus.Gauge
	State     *prometheus.GaugeVec

	SubmitLatency  *prometheus.HistogramVec
	ConfirmLatency prometheus.Histogram
	FeeWei         prometheus.Histogram
}

// engineStates are the values exposed by the state gauge.
var engineStates = []string{"idle", "running", "completed", "aborted"}

// NewPrometheus creates and registers the metrics with reg, or with the
// default registerer when reg is nil.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Prometheus{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollupsim_transactions_total",
				Help: "Transactions by submission status and kind",
			},
			[]string{"status", "kind"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollupsim_errors_total",
				Help: "Rejected submissions by error kind",
			},
			[]string{"error_kind"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollupsim_retries_total",
				Help: "Submission retries by the error kind that triggered them",
			},
			[]string{"error_kind"},
		),

		TargetTPS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollupsim_target_tps",
				Help: "Configured submission ceiling in transactions per second",
			},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollupsim_in_flight",
				Help: "Submissions currently awaiting a provider response",
			},
		),

		State: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rollupsim_state",
				Help: "Engine state (1 for the current state, 0 otherwise)",
			},
			[]string{"state"},
		),

		SubmitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rollupsim_submit_latency_seconds",
				Help:    "Provider round-trip time of a submission, including retries",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 1, 5},
			},
			[]string{"kind"},
		),

		ConfirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rollupsim_confirmation_latency_seconds",
				Help:    "Time from acceptance to the provider reporting execution",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),

		FeeWei: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rollupsim_fee_wei",
				Help:    "Quoted total fee of transfers in wei",
				Buckets: prometheus.ExponentialBuckets(1e3, 10, 12),
			},
		),
	}
}

// RecordSubmitted counts a transaction handed to the provider.
func (m *Prometheus) RecordSubmitted(kind rollup.TxKind) {
	m.TxTotal.WithLabelValues("submitted", string(kind)).Inc()
}

// RecordAccepted counts an accepted submission and observes its latency.
func (m *Prometheus) RecordAccepted(kind rollup.TxKind, latencySeconds float64) {
	m.TxTotal.WithLabelValues("accepted", string(kind)).Inc()
	m.SubmitLatency.WithLabelValues(string(kind)).Observe(latencySeconds)
}

// RecordRejected counts a rejected submission under its error kind.
func (m *Prometheus) RecordRejected(kind rollup.TxKind, errKind rollup.ErrorKind, latencySeconds float64) {
	m.TxTotal.WithLabelValues("rejected", string(kind)).Inc()
	m.ErrorsTotal.WithLabelValues(errKind.String()).Inc()
	m.SubmitLatency.WithLabelValues(string(kind)).Observe(latencySeconds)
}

// RecordRetry counts one retry.
func (m *Prometheus) RecordRetry(errKind rollup.ErrorKind) {
	m.RetriesTotal.WithLabelValues(errKind.String()).Inc()
}

// RecordConfirmed counts a confirmed transaction.
func (m *Prometheus) RecordConfirmed(success bool, latencySeconds float64) {
	status := "confirmed"
	if !success {
		status = "failed"
	}
	m.TxTotal.WithLabelValues(status, "any").Inc()
	m.ConfirmLatency.Observe(latencySeconds)
}

// RecordFee observes a quoted fee. Fees beyond float64 precision are
// approximated.
func (m *Prometheus) RecordFee(totalWei float64) {
	m.FeeWei.Observe(totalWei)
}

// SetTargetTPS updates the target TPS gauge.
func (m *Prometheus) SetTargetTPS(tps float64) {
	m.TargetTPS.Set(tps)
}

// SetInFlight updates the in-flight gauge.
func (m *Prometheus) SetInFlight(n int64) {
	m.InFlight.Set(float64(n))
}

// SetState marks state as the current engine state.
func (m *Prometheus) SetState(state string) {
	for _, s := range engineStates {
		if s == state {
			m.State.WithLabelValues(s).Set(1)
		} else {
			m.State.WithLabelValues(s).Set(0)
		}
	}
}

// Reset clears the vectors and gauges. Histograms are cumulative and keep
// accumulating across runs.
func (m *Prometheus) Reset() {
	m.TxTotal.Reset()
	m.ErrorsTotal.Reset()
	m.RetriesTotal.Reset()
	m.SubmitLatency.Reset()
	m.TargetTPS.Set(0)
	m.InFlight.Set(0)
	m.SetState("idle")
}
