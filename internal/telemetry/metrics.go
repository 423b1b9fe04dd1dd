package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/slurmdag/internal/domain"
)

const namespace = "slurmdag"

// Metrics — Prometheus метрики контроллера.
//
// Все методы безопасно вызывать на nil *Metrics.
type Metrics struct {
	nodes          *prometheus.GaugeVec
	submissions    *prometheus.CounterVec
	retries        prometheus.Counter
	outcomes       *prometheus.CounterVec
	schedulerCalls *prometheus.HistogramVec
	iterations     prometheus.Counter
	registry       prometheus.Gatherer
}

// NewMetrics регистрирует метрики в reg.
// Если reg — *prometheus.Registry, он же используется в Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Number of DAG nodes per status.",
		}, []string{"status"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Job submissions by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Nodes sent back to ready for another attempt.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome.",
		}, []string{"outcome"}),
		schedulerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_call_duration_seconds",
			Help:      "Duration of scheduler commands.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"operation", "result"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Monitor and submission passes executed.",
		}),
	}

	reg.MustRegister(m.nodes, m.submissions, m.retries, m.outcomes, m.schedulerCalls, m.iterations)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	}
	return m
}

// SetNodeCounts обновляет gauge по статусам узлов.
func (m *Metrics) SetNodeCounts(c domain.NodeCounts) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(domain.NodeDone.String()).Set(float64(c.Done))
	m.nodes.WithLabelValues(domain.NodeQueued.String()).Set(float64(c.Queued))
	m.nodes.WithLabelValues(domain.NodeReady.String()).Set(float64(c.Ready))
	m.nodes.WithLabelValues(domain.NodeUnready.String()).Set(float64(c.Unready))
	m.nodes.WithLabelValues(domain.NodeFailed.String()).Set(float64(c.Failed))
}

// ObserveSubmission учитывает попытку отправки.
func (m *Metrics) ObserveSubmission(err error) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result(err)).Inc()
}

// IncRetries учитывает retry узла.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// IncIterations учитывает итерацию цикла.
func (m *Metrics) IncIterations() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

// ObserveOutcome учитывает завершение run.
func (m *Metrics) ObserveOutcome(o domain.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(o.String()).Inc()
}

// ObserveSchedulerCall учитывает длительность команды планировщика.
func (m *Metrics) ObserveSchedulerCall(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.schedulerCalls.WithLabelValues(op, result(err)).Observe(d.Seconds())
}

// Handler возвращает HTTP mux с /metrics и /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if m != nil && m.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
