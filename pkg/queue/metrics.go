package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultCompleted    = "completed"
	resultRetried      = "retried"
	resultDeadLettered = "dead_lettered"
)

type workerMetrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func newWorkerMetrics(reg prometheus.Registerer) *workerMetrics {
	m := &workerMetrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "tasks_processed_total",
			Help:      "Processed tasks by queue, task name and result",
		}, []string{"queue", "task", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "queue",
			Name:      "task_duration_seconds",
			Help:      "Handler execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "task"}),
	}
	reg.MustRegister(m.processed, m.duration)
	return m
}

func (m *workerMetrics) observe(task *Task, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(task.Queue, task.Name, result).Inc()
	if d > 0 {
		m.duration.WithLabelValues(task.Queue, task.Name).Observe(d.Seconds())
	}
}
