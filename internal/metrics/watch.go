package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dehusk/internal/disk"
)

// Watch subsystem metrics
var (
	// ErrorsTotal tracks errors outside individual operations: scans,
	// history writes, the metrics server
	ErrorsTotal prometheus.Counter

	// WatchCyclesTotal counts completed watch cycles
	WatchCyclesTotal prometheus.Counter

	// WatchCycleDuration tracks how long a full watch cycle takes
	WatchCycleDuration prometheus.Histogram

	// WatchCandidates tracks how many settled directories the last cycle
	// found per watch root
	WatchCandidates *prometheus.GaugeVec

	// RootFreeBytes and RootUsedPercent describe the filesystem holding
	// each watch root
	RootFreeBytes   *prometheus.GaugeVec
	RootUsedPercent *prometheus.GaugeVec
)

func initWatchMetrics() {
	ErrorsTotal = NewCounter(
		"dehusk_errors_total",
		"Total errors encountered outside individual dehusk operations.",
	)

	WatchCyclesTotal = NewCounter(
		"dehusk_watch_cycles_total",
		"Total completed watch cycles.",
	)

	WatchCycleDuration = NewDurationHistogram(
		"dehusk_watch_cycle_duration_seconds",
		"Duration of a watch cycle in seconds.",
	)

	WatchCandidates = NewGaugeVec(
		"dehusk_watch_candidates",
		"Settled directories found under a watch root in the last cycle.",
		[]string{"root"},
	)

	RootFreeBytes = NewGaugeVec(
		"dehusk_watch_root_free_bytes",
		"Free space on the filesystem containing the watch root.",
		[]string{"root"},
	)

	RootUsedPercent = NewGaugeVec(
		"dehusk_watch_root_used_percent",
		"Used space percentage of the filesystem containing the watch root.",
		[]string{"root"},
	)
}

func registerWatchMetrics() {
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(WatchCyclesTotal)
	prometheus.MustRegister(WatchCycleDuration)
	prometheus.MustRegister(WatchCandidates)
	prometheus.MustRegister(RootFreeBytes)
	prometheus.MustRegister(RootUsedPercent)
}

// RecordCycle accounts a finished watch cycle.
func RecordCycle(took time.Duration) {
	WatchCyclesTotal.Inc()
	WatchCycleDuration.Observe(took.Seconds())
}

// UpdateRootUsage refreshes the filesystem gauges for a watch root.
func UpdateRootUsage(root string) error {
	usedPercent, free, _, err := disk.GetDiskUsage(root)
	if err != nil {
		return err
	}
	RootFreeBytes.WithLabelValues(root).Set(float64(free))
	RootUsedPercent.WithLabelValues(root).Set(usedPercent)
	return nil
}
