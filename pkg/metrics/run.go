package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// RunMetrics records one report run for scrape-or-push export.
type RunMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	invoices *prometheus.GaugeVec
	rows     *prometheus.GaugeVec
}

// NewRunMetrics registers the run metrics on the provided registerer.
func NewRunMetrics(reg prometheus.Registerer) *RunMetrics {
	if reg == nil {
		return &RunMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "run_duration_seconds",
		Help:    "Duration of report runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"subcommand"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "run_success",
		Help: "Successful report runs.",
	}, []string{"subcommand"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "run_failure",
		Help: "Failed report runs.",
	}, []string{"subcommand"})
	invoices := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "run_invoices",
		Help: "Invoices fetched in the last run.",
	}, []string{"subcommand"})
	rows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "run_rows",
		Help: "Rows produced in the last run, by ledger.",
	}, []string{"subcommand", "ledger"})
	reg.MustRegister(duration, success, failure, invoices, rows)
	return &RunMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		invoices: invoices,
		rows:     rows,
	}
}

// ObserveDuration records the duration for the named subcommand.
func (r *RunMetrics) ObserveDuration(subcommand string, duration time.Duration) {
	if r == nil || r.duration == nil {
		return
	}
	r.duration.WithLabelValues(normalizeLabel(subcommand)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named subcommand.
func (r *RunMetrics) IncSuccess(subcommand string) {
	if r == nil || r.success == nil {
		return
	}
	r.success.WithLabelValues(normalizeLabel(subcommand)).Inc()
}

// IncFailure increments the failure counter for the named subcommand.
func (r *RunMetrics) IncFailure(subcommand string) {
	if r == nil || r.failure == nil {
		return
	}
	r.failure.WithLabelValues(normalizeLabel(subcommand)).Inc()
}

// SetInvoices records how many invoices the run fetched.
func (r *RunMetrics) SetInvoices(subcommand string, count int) {
	if r == nil || r.invoices == nil {
		return
	}
	r.invoices.WithLabelValues(normalizeLabel(subcommand)).Set(float64(count))
}

// SetRows records the row count for one ledger (detail, usage).
func (r *RunMetrics) SetRows(subcommand, ledger string, count int) {
	if r == nil || r.rows == nil {
		return
	}
	r.rows.WithLabelValues(normalizeLabel(subcommand), normalizeLabel(ledger)).Set(float64(count))
}

// Push delivers the gathered metrics to a Pushgateway. Used by scheduled runs
// where nothing stays up long enough to scrape.
func Push(ctx context.Context, gatherer prometheus.Gatherer, url, job, runID string) error {
	pusher := push.New(url, job).Gatherer(gatherer)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	return pusher.PushContext(ctx)
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
