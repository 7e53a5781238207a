// Package metrics holds the Prometheus instrumentation for live-store
// monitoring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MonitorMetrics counts live-monitoring activity. The counters separate
// arrival from delivery: entries observed at the reader versus entries
// actually handed to the delivery context, which is rate-limited.
type MonitorMetrics struct {
	PollCycles        prometheus.Counter
	EntriesObserved   prometheus.Counter
	EntriesDelivered  prometheus.Counter
	MetadataDelivered prometheus.Counter
	LivePartitions    prometheus.Gauge
	MonitorsRunning   prometheus.Gauge
	ShutdownTimeouts  prometheus.Counter
}

// New creates and registers the monitor metrics on reg.
func New(reg prometheus.Registerer) *MonitorMetrics {
	m := &MonitorMetrics{
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamnav_poll_cycles_total",
			Help: "Number of reader poll cycles executed.",
		}),
		EntriesObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamnav_entries_observed_total",
			Help: "Number of entries read from live stores.",
		}),
		EntriesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamnav_entries_delivered_total",
			Help: "Number of entry deliveries to the delivery context.",
		}),
		MetadataDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamnav_metadata_updates_delivered_total",
			Help: "Number of metadata updates forwarded to the delivery context.",
		}),
		LivePartitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamnav_live_partitions",
			Help: "Number of partitions currently considered live.",
		}),
		MonitorsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamnav_monitors_running",
			Help: "Number of live-store monitors currently polling.",
		}),
		ShutdownTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamnav_monitor_shutdown_timeouts_total",
			Help: "Number of monitor stops that exceeded the bounded join window.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.PollCycles,
			m.EntriesObserved,
			m.EntriesDelivered,
			m.MetadataDelivered,
			m.LivePartitions,
			m.MonitorsRunning,
			m.ShutdownTimeouts,
		)
	}
	return m
}
