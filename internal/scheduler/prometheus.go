package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the task lifecycle. Per-account series are deliberately
// avoided; account ids are unbounded.
type Metrics struct {
	TasksSubmitted prometheus.Counter
	TasksFinished  *prometheus.CounterVec
	TasksRunning   prometheus.Gauge
	TaskDuration   prometheus.Histogram
	RecordsSaved   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hostscrape_tasks_submitted_total",
			Help: "Scraping tasks accepted by the scheduler.",
		}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostscrape_tasks_finished_total",
			Help: "Scraping tasks reaching a terminal status.",
		}, []string{"status"}),
		TasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hostscrape_tasks_running",
			Help: "Tasks currently holding a concurrency slot.",
		}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hostscrape_task_duration_seconds",
			Help:    "Wall time of a task from slot acquisition to finish.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		RecordsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostscrape_records_saved_total",
			Help: "Scraped records persisted, by category.",
		}, []string{"category"}),
	}
}
