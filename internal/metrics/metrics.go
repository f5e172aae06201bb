package metrics

import (
	"strings"

	"price_service/internal/refresh"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

type RefreshMetrics struct {
	passes      *prometheus.CounterVec
	records     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess prometheus.Gauge
}

func New(registerer prometheus.Registerer, cfg Config) *RefreshMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "price_service"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	passes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "price_refresh_passes_total",
			Help:        "Refresh passes by trigger and result.",
			ConstLabels: constLabels,
		},
		[]string{"trigger", "result"}, // completed | aborted | failed
	)

	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "price_refresh_records_total",
			Help:        "Price records visited by refresh passes.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // updated | failed
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "price_refresh_pass_duration_seconds",
			Help: "Wall time of a refresh pass including pacing delays.",
			Buckets: []float64{
				1,
				10,
				30,
				60,
				300,  // 5m
				900,  // 15m
				1800, // 30m
				3600, // 1h
			},
			ConstLabels: constLabels,
		},
		[]string{"trigger"},
	)

	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "price_refresh_last_success_timestamp_seconds",
			Help:        "Unix time of the last refresh pass that ran to completion.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(passes, records, duration, lastSuccess)

	return &RefreshMetrics{
		passes:      passes,
		records:     records,
		duration:    duration,
		lastSuccess: lastSuccess,
	}
}

func (m *RefreshMetrics) ObservePass(report refresh.PassReport) {
	if m == nil {
		return
	}

	trigger := string(report.Trigger)

	result := "completed"
	switch {
	case report.Err != nil:
		result = "failed"
	case report.Aborted:
		result = "aborted"
	}

	m.passes.WithLabelValues(trigger, result).Inc()
	m.records.WithLabelValues("updated").Add(float64(report.Updated()))
	m.records.WithLabelValues("failed").Add(float64(report.Failed()))

	seconds := report.Duration().Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.duration.WithLabelValues(trigger).Observe(seconds)

	if result == "completed" {
		m.lastSuccess.Set(float64(report.FinishedAt.Unix()))
	}
}
