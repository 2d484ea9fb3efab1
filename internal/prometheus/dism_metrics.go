package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "invocations_total",
		Namespace: Namespace,
		Subsystem: DismSubsystem,
		Help:      "Number of dism invocations by operation and result.",
	}, []string{"operation", "result"})
)

var (
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "invocation_duration_seconds",
		Namespace: Namespace,
		Subsystem: DismSubsystem,
		Help:      "Duration of dism invocations.",
		Buckets:   []float64{.1, .5, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048},
	}, []string{"operation"})
)

func ToolInvocationDone(operation string, seconds float64, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ToolInvocations.WithLabelValues(operation, result).Inc()
	ToolDuration.WithLabelValues(operation).Observe(seconds)
}
