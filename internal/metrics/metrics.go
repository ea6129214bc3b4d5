// Package metrics defines the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DatagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbond_discovery_datagrams_total",
		Help: "Total discovery datagrams received, by decode result",
	}, []string{"result"})

	DiscoveryPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshbond_discovery_passes_total",
		Help: "Total discovery passes run",
	})

	PeersCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshbond_peers_current",
		Help: "Number of live peers in the mesh",
	})

	ActiveInterfacesCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshbond_active_interfaces_current",
		Help: "Number of active local interfaces",
	})

	EnqueueRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbond_enqueue_rejected_total",
		Help: "Total enqueue calls rejected, by reason",
	}, []string{"reason"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshbond_queue_depth",
		Help: "Current send queue depth per interface",
	}, []string{"interface"})

	HealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbond_health_checks_total",
		Help: "Total per-interface health checks, by outcome",
	}, []string{"interface", "outcome"})

	FailoverTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbond_failover_transitions_total",
		Help: "Total failover events, by type",
	}, []string{"type"})

	FailoverState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshbond_failover_state",
		Help: "Current failover state (0=normal 1=monitoring 2=failing_over 3=recovering 4=degraded)",
	})

	LoopTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbond_loop_ticks_total",
		Help: "Total control loop ticks, by loop and result",
	}, []string{"loop", "result"})
)
