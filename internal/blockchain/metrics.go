package blockchain

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters for validation outcomes and apply/revert
// activity, mirroring the router's metrics.go shape (a small struct of
// prometheus instruments registered once at construction).
type EngineMetrics struct {
	BlocksAccepted    prometheus.Counter
	BlocksRejected    prometheus.Counter
	BlocksParked      prometheus.Counter
	RollBacksRun      prometheus.Counter
	StackUpsRun       prometheus.Counter
	CurrentBlockGauge prometheus.Gauge
	ActiveIdentities  prometheus.Gauge
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		BlocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duniter", Subsystem: "blockchain", Name: "blocks_accepted_total",
			Help: "Blocks accepted onto the main chain.",
		}),
		BlocksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duniter", Subsystem: "blockchain", Name: "blocks_rejected_total",
			Help: "Blocks rejected by validation.",
		}),
		BlocksParked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duniter", Subsystem: "blockchain", Name: "blocks_parked_total",
			Help: "Blocks parked in a fork slot for having an unknown parent.",
		}),
		RollBacksRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duniter", Subsystem: "blockchain", Name: "rollbacks_total",
			Help: "Fork roll-backs performed.",
		}),
		StackUpsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duniter", Subsystem: "blockchain", Name: "stackups_total",
			Help: "Fork stack-ups performed.",
		}),
		CurrentBlockGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duniter", Subsystem: "blockchain", Name: "current_block_number",
			Help: "Current main-chain tip block number.",
		}),
		ActiveIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duniter", Subsystem: "blockchain", Name: "active_identities",
			Help: "Number of active WoT identities.",
		}),
	}
	reg.MustRegister(m.BlocksAccepted, m.BlocksRejected, m.BlocksParked, m.RollBacksRun, m.StackUpsRun, m.CurrentBlockGauge, m.ActiveIdentities)
	return m
}
