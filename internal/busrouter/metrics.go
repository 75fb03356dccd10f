package busrouter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes router index sizes as Prometheus gauges (registered
// modules, active roles, active event kinds). Pool and mailbox depths are
// not measured.
type Metrics struct {
	Modules prometheus.Gauge
	Roles   prometheus.Gauge
	Events  prometheus.Gauge
}

// NewMetrics registers the router's gauges against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Modules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duniter", Subsystem: "busrouter", Name: "modules_registered",
			Help: "Number of modules currently registered with the router.",
		}),
		Roles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duniter", Subsystem: "busrouter", Name: "roles_active",
			Help: "Number of distinct roles with at least one subscriber.",
		}),
		Events: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duniter", Subsystem: "busrouter", Name: "events_active",
			Help: "Number of distinct event kinds with at least one subscriber.",
		}),
	}
	reg.MustRegister(m.Modules, m.Roles, m.Events)
	return m
}

// watch periodically samples the router's indexes until stopped fires.
func (m *Metrics) watch(r *Router, stopped <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mods, roles, events := r.snapshot()
			m.Modules.Set(float64(mods))
			m.Roles.Set(float64(roles))
			m.Events.Set(float64(events))
		case <-stopped:
			return
		}
	}
}
