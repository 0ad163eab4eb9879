package updateby

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "updateby"
	labelHandle      = "handle"
	labelKind        = "kind"
)

// cyclesTotal counts committed cycles, bootstrap and seal included
var cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: "coordinator",
	Name:      "cycles_total",
	Help:      "Total number of committed update cycles",
}, []string{labelHandle})

// cycleFailures counts cycles rolled back on error or cancellation
var cycleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: "coordinator",
	Name:      "cycle_failures_total",
	Help:      "Total number of update cycles rolled back",
}, []string{labelHandle})

var cycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: metricsNamespace,
	Subsystem: "coordinator",
	Name:      "cycle_duration_seconds",
	Help:      "Wall time of one update cycle",
	Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
}, []string{labelHandle})

// changedOutputs counts output cells reported as changed
var changedOutputs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: "coordinator",
	Name:      "changed_outputs_total",
	Help:      "Total number of changed output cells",
}, []string{labelHandle})

var rowErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: "coordinator",
	Name:      "row_errors_total",
	Help:      "Total number of output cells left in an error state, by kind",
}, []string{labelHandle, labelKind})

// liveGroups is the number of groups holding at least one row
var liveGroups = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: metricsNamespace,
	Subsystem: "grouping",
	Name:      "live_groups",
	Help:      "Number of live groups",
}, []string{labelHandle})

// recomputedRows counts output cells recomputed inside influence zones
var recomputedRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Subsystem: "coordinator",
	Name:      "recomputed_cells_total",
	Help:      "Total number of output cells recomputed",
}, []string{labelHandle})

// deleteHandleMetrics drops every series labelled with the handle id.
func deleteHandleMetrics(id string) {
	labels := prometheus.Labels{labelHandle: id}
	cyclesTotal.Delete(labels)
	cycleFailures.Delete(labels)
	cycleDuration.Delete(labels)
	changedOutputs.Delete(labels)
	rowErrors.DeletePartialMatch(labels)
	liveGroups.Delete(labels)
	recomputedRows.Delete(labels)
}
