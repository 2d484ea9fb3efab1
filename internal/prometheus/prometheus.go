package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace       = "rocketize"
	DismSubsystem   = "dism"
	ImageSubsystem  = "image"
	StagerSubsystem = "stager"
)

// WriteTextfile dumps all registered metrics in the text exposition format,
// suitable for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
