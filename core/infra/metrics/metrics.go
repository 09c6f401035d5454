package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkflowMetrics captures run-level workflow metrics.
type WorkflowMetrics interface {
	IncWorkflowStarted(workflow string)
	IncWorkflowCompleted(workflow, status string)
	ObserveWorkflowDuration(workflow string, durationSeconds float64)
}

// StepMetrics captures per-step-type metrics.
type StepMetrics interface {
	IncStepFinished(stepType, status string)
	ObserveStepDuration(stepType string, durationSeconds float64)
}

// SchedulerMetrics captures automation trigger metrics.
type SchedulerMetrics interface {
	IncScheduleFired(status string)
	SetActiveTriggers(n int)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) IncWorkflowStarted(string)               {}
func (Noop) IncWorkflowCompleted(string, string)     {}
func (Noop) ObserveWorkflowDuration(string, float64) {}
func (Noop) IncStepFinished(string, string)          {}
func (Noop) ObserveStepDuration(string, float64)     {}
func (Noop) IncScheduleFired(string)                 {}
func (Noop) SetActiveTriggers(int)                   {}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Workflow metrics ---

type workflowProm struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	once      sync.Once
}

func NewWorkflowProm(namespace string) WorkflowMetrics {
	w := &workflowProm{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Workflow runs started by workflow id",
		}, []string{"workflow"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_completed_total",
			Help:      "Workflow runs finished by workflow id and terminal status",
		}, []string{"workflow", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow run duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"workflow"}),
	}
	w.once.Do(func() {
		prometheus.MustRegister(w.started, w.completed, w.duration)
	})
	return w
}

func (w *workflowProm) IncWorkflowStarted(workflow string) {
	w.started.WithLabelValues(workflow).Inc()
}

func (w *workflowProm) IncWorkflowCompleted(workflow, status string) {
	w.completed.WithLabelValues(workflow, status).Inc()
}

func (w *workflowProm) ObserveWorkflowDuration(workflow string, durationSeconds float64) {
	w.duration.WithLabelValues(workflow).Observe(durationSeconds)
}

// --- Step metrics ---

type stepProm struct {
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	once     sync.Once
}

func NewStepProm(namespace string) StepMetrics {
	s := &stepProm{
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_finished_total",
			Help:      "Steps finished by type and status",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step invocation duration by type",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
	s.once.Do(func() {
		prometheus.MustRegister(s.finished, s.duration)
	})
	return s
}

func (s *stepProm) IncStepFinished(stepType, status string) {
	s.finished.WithLabelValues(stepType, status).Inc()
}

func (s *stepProm) ObserveStepDuration(stepType string, durationSeconds float64) {
	s.duration.WithLabelValues(stepType).Observe(durationSeconds)
}

// --- Scheduler metrics ---

type schedulerProm struct {
	fired    *prometheus.CounterVec
	triggers prometheus.Gauge
	once     sync.Once
}

func NewSchedulerProm(namespace string) SchedulerMetrics {
	s := &schedulerProm{
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fires_total",
			Help:      "Schedule trigger fires by dispatch status",
		}, []string{"status"}),
		triggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_active_triggers",
			Help:      "Live cron triggers registered in this process",
		}),
	}
	s.once.Do(func() {
		prometheus.MustRegister(s.fired, s.triggers)
	})
	return s
}

func (s *schedulerProm) IncScheduleFired(status string) {
	s.fired.WithLabelValues(status).Inc()
}

func (s *schedulerProm) SetActiveTriggers(n int) {
	s.triggers.Set(float64(n))
}
