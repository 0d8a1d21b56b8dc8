package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the tracker.
type Metrics struct {
	Registry            *prometheus.Registry
	RunsTotal           *prometheus.CounterVec
	FetchErrorsTotal    prometheus.Counter
	CategoriesExtracted prometheus.Histogram
	NotificationsTotal  *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visatrack_runs_total",
			Help: "Total tracking runs by outcome.",
		},
		[]string{"outcome"},
	)
	fetchErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visatrack_fetch_errors_total",
			Help: "Total bulletin fetch failures.",
		},
	)
	categories := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visatrack_categories_extracted",
			Help:    "Category rows extracted per run.",
			Buckets: []float64{0, 5, 10, 20, 40, 80},
		},
	)
	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visatrack_notifications_total",
			Help: "Total notification emails by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(runs, fetchErrors, categories, notifications)

	return &Metrics{
		Registry:            registry,
		RunsTotal:           runs,
		FetchErrorsTotal:    fetchErrors,
		CategoriesExtracted: categories,
		NotificationsTotal:  notifications,
	}
}

// IncRun increments the run counter for an outcome label.
func (m *Metrics) IncRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// IncFetchError increments the fetch error counter.
func (m *Metrics) IncFetchError() {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.Inc()
}

// ObserveCategories records the category count of a run.
func (m *Metrics) ObserveCategories(count int) {
	if m == nil {
		return
	}
	m.CategoriesExtracted.Observe(float64(count))
}

// AddNotifications adds to the notification counter for an outcome label.
func (m *Metrics) AddNotifications(outcome string, n int) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(outcome).Add(float64(n))
}
