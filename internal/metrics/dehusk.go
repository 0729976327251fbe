package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes used as the status label
const (
	StatusCollapsed = "collapsed"
	StatusNoop      = "noop"
	StatusFailed    = "failed"
)

// Dehusk subsystem metrics
var (
	// OperationsTotal counts dehusk operations by outcome
	OperationsTotal *prometheus.CounterVec

	// SwapFailuresTotal counts failed operations by the phase they failed in
	SwapFailuresTotal *prometheus.CounterVec

	// IntermediateStatesTotal counts failures that left a payload in a
	// temporary sibling
	IntermediateStatesTotal prometheus.Counter

	// OperationDuration tracks how long a single dehusk takes
	OperationDuration prometheus.Histogram

	// LevelsCollapsed tracks wrapper levels removed per successful operation
	LevelsCollapsed prometheus.Histogram

	// FilesRelocatedTotal and BytesRelocatedTotal account the payload moved
	// onto outer paths
	FilesRelocatedTotal prometheus.Counter
	BytesRelocatedTotal prometheus.Counter

	// LastOperationTimestamp records the Unix time of the last operation
	LastOperationTimestamp prometheus.Gauge
)

func initDehuskMetrics() {
	OperationsTotal = NewCounterVec(
		"dehusk_operations_total",
		"Total dehusk operations by outcome.",
		[]string{"status"},
	)

	SwapFailuresTotal = NewCounterVec(
		"dehusk_failures_total",
		"Failed dehusk operations by phase.",
		[]string{"phase"},
	)

	IntermediateStatesTotal = NewCounter(
		"dehusk_intermediate_states_total",
		"Failures that left the payload in a temporary swap directory.",
	)

	OperationDuration = NewDurationHistogram(
		"dehusk_operation_duration_seconds",
		"Duration of a single dehusk operation in seconds.",
	)

	LevelsCollapsed = NewHistogram(
		"dehusk_levels_collapsed",
		"Wrapper directory levels removed per successful operation.",
		LevelsBuckets,
	)

	FilesRelocatedTotal = NewCounter(
		"dehusk_files_relocated_total",
		"Files moved onto outer paths by collapses.",
	)

	BytesRelocatedTotal = NewCounter(
		"dehusk_bytes_relocated_total",
		"Bytes moved onto outer paths by collapses.",
	)

	LastOperationTimestamp = NewGauge(
		"dehusk_last_operation_timestamp",
		"Unix timestamp of the last dehusk operation.",
	)
}

func registerDehuskMetrics() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(SwapFailuresTotal)
	prometheus.MustRegister(IntermediateStatesTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(LevelsCollapsed)
	prometheus.MustRegister(FilesRelocatedTotal)
	prometheus.MustRegister(BytesRelocatedTotal)
	prometheus.MustRegister(LastOperationTimestamp)
}

// RecordSuccess accounts a finished operation. levels == 0 is a no-op.
func RecordSuccess(levels int, files, bytes int64, took time.Duration) {
	OperationDuration.Observe(took.Seconds())
	LastOperationTimestamp.Set(float64(time.Now().Unix()))
	if levels == 0 {
		OperationsTotal.WithLabelValues(StatusNoop).Inc()
		return
	}
	OperationsTotal.WithLabelValues(StatusCollapsed).Inc()
	LevelsCollapsed.Observe(float64(levels))
	FilesRelocatedTotal.Add(float64(files))
	BytesRelocatedTotal.Add(float64(bytes))
}

// RecordFailure accounts a failed operation.
func RecordFailure(phase string, intermediate bool, took time.Duration) {
	OperationDuration.Observe(took.Seconds())
	LastOperationTimestamp.Set(float64(time.Now().Unix()))
	OperationsTotal.WithLabelValues(StatusFailed).Inc()
	SwapFailuresTotal.WithLabelValues(phase).Inc()
	if intermediate {
		IntermediateStatesTotal.Inc()
	}
}
