package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Processed QR scans by mode and outcome.",
	}, []string{"mode", "outcome"})

	finalizationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_teacher_finalizations_total",
		Help: "Teacher-day records moved out of pending by a student scan.",
	})

	sweepRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_sweep_rows_total",
		Help: "Rows touched by end-of-day sweeps.",
	}, []string{"sweep"})
)
