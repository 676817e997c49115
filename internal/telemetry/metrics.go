// Package telemetry exposes process, task and worker activity as Prometheus
// metrics and configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/orchestra/internal/taskqueue"
	"github.com/petrijr/orchestra/pkg/api"
	"github.com/petrijr/orchestra/pkg/worker"
)

const namespace = "orchestra"

// Metrics records transitions and handled queue items. It is both an
// api.Observer for tasks and processes and a worker.ItemObserver.
type Metrics struct {
	reg prometheus.Registerer

	processes        *prometheus.CounterVec
	processesRunning prometheus.Gauge
	tasks            *prometheus.CounterVec
	items            *prometheus.CounterVec
	itemDuration     *prometheus.HistogramVec
}

var (
	_ api.Observer        = (*Metrics)(nil)
	_ worker.ItemObserver = (*Metrics)(nil)
)

// NewMetrics registers the collectors with reg. Use
// prometheus.DefaultRegisterer to expose them through the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		// ─── Processes ─────────────────────────────────────────────────────

		processes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "transitions_total",
			Help:      "Process transitions, labelled by definition and event.",
		}, []string{"definition", "event"}),

		processesRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "running",
			Help:      "Processes started and not yet completed or failed.",
		}),

		// ─── Tasks ─────────────────────────────────────────────────────────

		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "transitions_total",
			Help:      "Task transitions, labelled by task kind and event.",
		}, []string{"kind", "event"}),

		// ─── Worker ────────────────────────────────────────────────────────

		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "items_processed_total",
			Help:      "Queue items handled, labelled by item type and status.",
		}, []string{"type", "status"}),

		itemDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "item_duration_seconds",
			Help:      "Time spent handling one queue item.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"type"}),
	}
}

// WatchQueue exports the length of q as orchestra_queue_depth{queue=name}.
func (m *Metrics) WatchQueue(name string, q taskqueue.Queue) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "queue",
		Name:        "depth",
		Help:        "Items waiting in the queue.",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 {
		return float64(q.Len())
	}))
}

func (m *Metrics) OnProcessStart(_ context.Context, p api.ProcessInfo) {
	m.processes.WithLabelValues(p.Definition, "started").Inc()
	m.processesRunning.Inc()
}

func (m *Metrics) OnProcessCompleted(_ context.Context, p api.ProcessInfo) {
	m.processes.WithLabelValues(p.Definition, "completed").Inc()
	m.processesRunning.Dec()
}

func (m *Metrics) OnProcessFailed(_ context.Context, p api.ProcessInfo, _ error) {
	m.processes.WithLabelValues(p.Definition, "failed").Inc()
	m.processesRunning.Dec()
}

func (m *Metrics) OnTaskEnqueued(_ context.Context, t api.TaskInfo) {
	m.tasks.WithLabelValues(t.Kind, "enqueued").Inc()
}

func (m *Metrics) OnTaskStart(_ context.Context, t api.TaskInfo) {
	m.tasks.WithLabelValues(t.Kind, "started").Inc()
}

func (m *Metrics) OnTaskCompleted(_ context.Context, t api.TaskInfo) {
	m.tasks.WithLabelValues(t.Kind, "completed").Inc()
}

func (m *Metrics) OnTaskFailed(_ context.Context, t api.TaskInfo, _ error) {
	m.tasks.WithLabelValues(t.Kind, "failed").Inc()
}

// OnItemProcessed implements worker.ItemObserver.
func (m *Metrics) OnItemProcessed(_ context.Context, it *taskqueue.Item, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.items.WithLabelValues(string(it.Type), status).Inc()
	m.itemDuration.WithLabelValues(string(it.Type)).Observe(elapsed.Seconds())
}
