package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ServiceName labels logs, metrics and health responses.
const ServiceName = "helix-api"

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helix_build_info",
			Help: "Helix API build information.",
		},
		[]string{"version", "commit"},
	)
)

// InitBuildInfo registers build_info once and sets it for version/commit.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}
