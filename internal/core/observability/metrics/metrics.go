package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/atar/internal/core/events/bus"
)

// Metrics groups the simulator collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	loopDuration *prometheus.HistogramVec
	loopOverruns *prometheus.CounterVec
	staleFrames  prometheus.Counter
	taskState    *prometheus.GaugeVec
	repetitions  *prometheus.GaugeVec
	published    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	graspChanges *prometheus.CounterVec
}

var _ bus.EventBusObserver = (*Metrics)(nil)

// New registers all collectors under the given namespace
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loopDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loop_step_duration_seconds",
				Help:      "Duration of a single loop step",
				Buckets:   []float64{.0001, .00025, .0005, .001, .002, .004, .01, .02, .04, .1},
			},
			[]string{"loop"},
		),
		loopOverruns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_overruns_total",
				Help:      "Steps that took longer than the loop period",
			},
			[]string{"loop"},
		),
		staleFrames: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_frames_total",
				Help:      "Render ticks that reused the previous stereo frame pair",
			},
		),
		taskState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "task_state",
				Help:      "Current task state (0 idle, 1 active, 2 finished)",
			},
			[]string{"task"},
		),
		repetitions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "task_repetitions",
				Help:      "Repetition counter of the running task",
			},
			[]string{"task"},
		),
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telemetry_published_total",
				Help:      "Telemetry records published on the event bus",
			},
			[]string{"kind"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telemetry_delivery_errors_total",
				Help:      "Telemetry records at least one subscriber failed to handle",
			},
			[]string{"kind"},
		),
		graspChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grasp_transitions_total",
				Help:      "Grasp predicate transitions per tool",
			},
			[]string{"tool"},
		),
	}

	m.registry.MustRegister(
		m.loopDuration,
		m.loopOverruns,
		m.staleFrames,
		m.taskState,
		m.repetitions,
		m.published,
		m.failed,
		m.graspChanges,
	)
	return m
}

// ObserveStep records one loop step
func (m *Metrics) ObserveStep(loop string, d time.Duration, overrun bool) {
	m.loopDuration.WithLabelValues(loop).Observe(d.Seconds())
	if overrun {
		m.loopOverruns.WithLabelValues(loop).Inc()
	}
}

func (m *Metrics) StaleFrame() {
	m.staleFrames.Inc()
}

func (m *Metrics) TaskState(task string, state int, repetition int) {
	m.taskState.WithLabelValues(task).Set(float64(state))
	m.repetitions.WithLabelValues(task).Set(float64(repetition))
}

// OnPublish counts every record published on the event bus by its kind
func (m *Metrics) OnPublish(_, kind string, _ bus.Event) {
	m.published.WithLabelValues(kind).Inc()
}

func (m *Metrics) OnDelivered(_, kind string, _ int, err error, _ time.Duration) {
	if err != nil {
		m.failed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) GraspChanged(tool string) {
	m.graspChanges.WithLabelValues(tool).Inc()
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
