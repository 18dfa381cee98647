package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	TurnsTotal      *prometheus.CounterVec
	AnswerDuration  prometheus.Histogram
	EvaluationTotal *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragchat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragchat_turns_total",
				Help: "Submitted questions by outcome",
			},
			[]string{"outcome"},
		),
		AnswerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragchat_answer_duration_seconds",
				Help:    "Time spent answering a question",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
		),
		EvaluationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragchat_evaluations_total",
				Help: "Evaluation requests by outcome",
			},
			[]string{"outcome"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ragchat_sessions_active",
				Help: "Number of live chat sessions",
			},
		),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.TurnsTotal,
		m.AnswerDuration,
		m.EvaluationTotal,
		m.SessionsActive,
	)
	return m
}
