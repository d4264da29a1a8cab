package tryon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/raushankrgupta/tryon-orchestrator/models"
)

// Metrics is the orchestrator's Prometheus instrumentation. A nil *Metrics records nothing.
type Metrics struct {
	TasksStarted      *prometheus.CounterVec
	TasksFinished     *prometheus.CounterVec
	Refunds           *prometheus.CounterVec
	RefundFailures    prometheus.Counter
	StatusCheckErrors prometheus.Counter
	PollAttempts      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tryon_tasks_started_total",
			Help: "Try-on tasks debited and submitted, by kind",
		}, []string{"kind"}),
		TasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tryon_tasks_finished_total",
			Help: "Try-on tasks resolved, by kind and outcome",
		}, []string{"kind", "outcome"}),
		Refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tryon_refunds_total",
			Help: "Refunds credited, by reason",
		}, []string{"reason"}),
		RefundFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tryon_refund_failures_total",
			Help: "Refunds that could not be durably completed",
		}),
		StatusCheckErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tryon_status_check_errors_total",
			Help: "Transient provider status check errors",
		}),
		PollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tryon_poll_attempts",
			Help:    "Status checks performed per task",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 90, 120},
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TasksStarted,
			m.TasksFinished,
			m.Refunds,
			m.RefundFailures,
			m.StatusCheckErrors,
			m.PollAttempts,
		)
	}
	return m
}

func (m *Metrics) started(kind models.Kind) {
	if m == nil {
		return
	}
	m.TasksStarted.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) finished(kind models.Kind, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(string(kind), outcome).Inc()
	if attempts > 0 {
		m.PollAttempts.WithLabelValues(string(kind)).Observe(float64(attempts))
	}
}

func (m *Metrics) refunded(reason string) {
	if m == nil {
		return
	}
	m.Refunds.WithLabelValues(reason).Inc()
}

func (m *Metrics) refundFailed() {
	if m == nil {
		return
	}
	m.RefundFailures.Inc()
}

func (m *Metrics) statusCheckFailed() {
	if m == nil {
		return
	}
	m.StatusCheckErrors.Inc()
}
