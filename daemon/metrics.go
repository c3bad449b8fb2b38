package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the daemon's Prometheus surface: LUN attach count and total
// completed commands, the daemon-scope analogues of cmd/tcgdiskstat's
// per-drive gauges (tcg_storage_drive_info et al.) — there one gauge row
// per discovered drive, here one counter/gauge pair for the whole running
// daemon, registered in its own registry rather than the default one so
// a process embedding Daemon as a library doesn't collide with its own
// metrics.
type Metrics struct {
	registry          *prometheus.Registry
	LUNsAttached      prometheus.Gauge
	CommandsCompleted prometheus.Counter
}

// NewMetrics registers and returns a fresh metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		LUNsAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scsiemu_luns_attached",
			Help: "Number of logical units currently attached across all target ids.",
		}),
		CommandsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scsiemu_commands_completed_total",
			Help: "Total number of SCSI/SASI selections driven back to bus free.",
		}),
	}
	reg.MustRegister(m.LUNsAttached, m.CommandsCompleted)
	return m
}

// Handler returns the /metrics HTTP handler exposing this Daemon's
// registry, for cmd/scsid to mount alongside the control channel.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
