// Package metrics exposes Prometheus metrics for the loop pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts terminal loop cycles.
	// Labels: status (success, failed)
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopcore",
			Subsystem: "loop",
			Name:      "cycles_total",
			Help:      "Total number of completed loop cycles",
		},
		[]string{"status"},
	)

	// CyclesSkippedTotal counts ticks that did not start a cycle.
	// Labels: reason (too_soon, in_flight)
	CyclesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopcore",
			Subsystem: "loop",
			Name:      "cycles_skipped_total",
			Help:      "Total number of ticks rejected by the entry gate",
		},
		[]string{"reason"},
	)

	// CycleDuration tracks cycle runtime.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "loopcore",
			Subsystem: "loop",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of loop cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CycleInterval tracks the gap between completed cycles.
	CycleInterval = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "loopcore",
			Subsystem: "loop",
			Name:      "cycle_interval_minutes",
			Help:      "Minutes between the previous completed cycle and the current cycle start",
			Buckets:   []float64{1, 2.5, 5, 7.5, 10, 15, 30, 60},
		},
	)

	// EnactmentsTotal counts physical pump commands issued by the loop.
	// Labels: command (temp_basal, bolus, resume), result (success, error)
	EnactmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopcore",
			Subsystem: "delivery",
			Name:      "enactments_total",
			Help:      "Total number of pump commands issued",
		},
		[]string{"command", "result"},
	)

	// TDDTotal is the most recent total daily dose.
	TDDTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loopcore",
			Subsystem: "tdd",
			Name:      "total_units",
			Help:      "Most recently computed total daily insulin dose in units",
		},
	)

	// TDDWeightedAverage is the most recent weighted-average TDD.
	TDDWeightedAverage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loopcore",
			Subsystem: "tdd",
			Name:      "weighted_average_units",
			Help:      "Most recently computed weighted-average TDD in units",
		},
	)

	// TDDHoursOfData is the history coverage behind the latest TDD.
	TDDHoursOfData = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loopcore",
			Subsystem: "tdd",
			Name:      "hours_of_data",
			Help:      "Hours of pump history behind the latest TDD computation",
		},
	)

	// BolusProgress is the delivery fraction of the bolus in flight,
	// 0 when none is running.
	BolusProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loopcore",
			Subsystem: "delivery",
			Name:      "bolus_progress_ratio",
			Help:      "Fraction of the in-flight bolus delivered, 0 when idle",
		},
	)

	// GlucoseRejectionsTotal counts readiness-check rejections.
	// Labels: reason (insufficient, stale, flat)
	GlucoseRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopcore",
			Subsystem: "glucose",
			Name:      "rejections_total",
			Help:      "Total number of glucose readiness rejections",
		},
		[]string{"reason"},
	)
)
