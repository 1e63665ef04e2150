package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "LandLord API build information.",
		},
		[]string{"version", "commit", "ledger_mode"},
	)
)

// InitBuildInfo registers build_info once and sets the current labels to 1.
func InitBuildInfo(version, commit, ledgerMode string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, ledgerMode).Set(1)
}
