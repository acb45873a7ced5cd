package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cosmos_tasks_submitted_total",
			Help: "Total tasks submitted to a DRM backend, by drm name",
		},
		[]string{"drm"},
	)
	tasksTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cosmos_tasks_terminal_total",
			Help: "Total tasks reaching a terminal status, by status",
		},
		[]string{"status"},
	)
	submitErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cosmos_submit_errors_total",
			Help: "Total DRM submit errors, by drm name",
		},
		[]string{"drm"},
	)
	inFlightTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cosmos_tasks_in_flight",
			Help: "Tasks currently submitted to a DRM and awaiting a terminal poll result",
		},
	)
)
