package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "sessions_total",
		Namespace: Namespace,
		Subsystem: ImageSubsystem,
		Help:      "Mount sessions by release outcome.",
	}, []string{"outcome"})
)

var (
	CapabilitiesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "capabilities_removed_total",
		Namespace: Namespace,
		Subsystem: ImageSubsystem,
		Help:      "Capabilities removed from mounted images.",
	})
)

var (
	PathsStripped = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "paths_stripped_total",
		Namespace: Namespace,
		Subsystem: ImageSubsystem,
		Help:      "Browser directories removed from mounted images.",
	})
)

var (
	ImagesCustomized = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "customized_total",
		Namespace: Namespace,
		Subsystem: ImageSubsystem,
		Help:      "Images customized and committed.",
	})
)

var (
	ImageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:      "customize_duration_seconds",
		Namespace: Namespace,
		Subsystem: ImageSubsystem,
		Help:      "Time spent customizing one image, mount to release.",
		Buckets:   []float64{30, 60, 120, 240, 480, 960, 1920, 3840},
	})
)

var (
	AssetsDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "assets_downloaded_total",
		Namespace: Namespace,
		Subsystem: StagerSubsystem,
		Help:      "Release assets downloaded by the package stager.",
	})
)

func SessionReleased(committed bool) {
	if committed {
		Sessions.WithLabelValues("commit").Inc()
	} else {
		Sessions.WithLabelValues("discard").Inc()
	}
}

func ImageDone(started time.Time) {
	ImagesCustomized.Inc()
	ImageDuration.Observe(time.Since(started).Seconds())
}
