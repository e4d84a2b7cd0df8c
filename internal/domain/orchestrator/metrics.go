package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queriesInFlight tracks widget queries currently executing.
	queriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "widget_queries_in_flight",
			Help: "Number of widget queries currently in flight",
		},
	)

	// queryTotal tracks completed widget queries by outcome.
	queryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_queries_total",
			Help: "Total number of completed widget queries",
		},
		[]string{"outcome"},
	)

	// positionSaves tracks autosave persistence calls by outcome.
	positionSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_position_saves_total",
			Help: "Total number of widget position autosave writes",
		},
		[]string{"outcome"},
	)
)
