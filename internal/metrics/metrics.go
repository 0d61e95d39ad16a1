// Package metrics holds Prometheus instruments used across the sync engine.
// All collectors are registered with the global registry, so importing this
// package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Completed sync runs by cadence and outcome.",
		},
		[]string{"cadence", "outcome"})

	WebhookSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_sends_total",
			Help: "Outbound webhook deliveries by outcome.",
		},
		[]string{"outcome"})

	InboundRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_inbound_rejected_total",
			Help: "Inbound webhook requests rejected, by reason.",
		},
		[]string{"reason"})

	QueueItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_queue_items_total",
			Help: "Queue items reaching a terminal or retry state.",
		},
		[]string{"status"})

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Pending items currently in the sync queue.",
		})

	ConflictsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_conflicts_resolved_total",
			Help: "Cumulative records removed or flagged by conflict resolution.",
		})

	IntegrityOrphans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "integrity_orphan_usage_rows",
			Help: "Usage rows referencing a missing vanity code, last check.",
		})

	IntegrityDuplicates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "integrity_duplicate_conversions",
			Help: "Duplicate conversion groups found by the last check.",
		})
)

func init() {
	prometheus.MustRegister(
		SyncRunsTotal,
		WebhookSendsTotal,
		InboundRejectedTotal,
		QueueItemsTotal,
		QueueDepth,
		ConflictsResolvedTotal,
		IntegrityOrphans,
		IntegrityDuplicates,
	)
}
