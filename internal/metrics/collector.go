// Package metrics exposes Prometheus metrics for the fabric's forwarding
// components (hub, NAT, interfaces) — a supplement to spec.md, which
// describes no metrics surface of its own, modeled on gobfd's
// internal/metrics.Collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "netsim"
	subsystem = "fabric"
)

// Label names.
const (
	labelComponent = "component" // hub or nat instance name
	labelReason    = "reason"    // why a packet was dropped
)

// Collector holds all fabric Prometheus metrics.
type Collector struct {
	// ActiveInterfaces tracks interfaces currently inserted into a hub or
	// NAT, labeled by component name.
	ActiveInterfaces *prometheus.GaugeVec

	// PacketsForwarded counts packets successfully forwarded by a hub or
	// NAT, labeled by component name.
	PacketsForwarded *prometheus.CounterVec

	// PacketsDropped counts packets a hub or NAT declined to forward
	// (backpressure, policy rejection, unmapped translation), labeled by
	// component name and reason.
	PacketsDropped *prometheus.CounterVec

	// AllocatedPorts tracks the number of external ports a NAT currently
	// has mapped, labeled by NAT name and transport ("tcp"/"udp").
	AllocatedPorts *prometheus.GaugeVec
}

// NewCollector creates a Collector with all fabric metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActiveInterfaces,
		c.PacketsForwarded,
		c.PacketsDropped,
		c.AllocatedPorts,
	)

	return c
}

func newMetrics() *Collector {
	componentLabels := []string{labelComponent}
	droppedLabels := []string{labelComponent, labelReason}
	portLabels := []string{labelComponent, "transport"}

	return &Collector{
		ActiveInterfaces: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_interfaces",
			Help:      "Number of interfaces currently inserted into a hub or NAT.",
		}, componentLabels),

		PacketsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_forwarded_total",
			Help:      "Total packets forwarded by a hub or NAT.",
		}, componentLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped by a hub or NAT, labeled by reason.",
		}, droppedLabels),

		AllocatedPorts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "allocated_ports",
			Help:      "Number of external ports currently mapped by a NAT.",
		}, portLabels),
	}
}

// IncActiveInterfaces increments the active-interface gauge for component.
func (c *Collector) IncActiveInterfaces(component string) {
	c.ActiveInterfaces.WithLabelValues(component).Inc()
}

// DecActiveInterfaces decrements the active-interface gauge for component.
func (c *Collector) DecActiveInterfaces(component string) {
	c.ActiveInterfaces.WithLabelValues(component).Dec()
}

// IncPacketsForwarded increments the forwarded-packet counter for component.
func (c *Collector) IncPacketsForwarded(component string) {
	c.PacketsForwarded.WithLabelValues(component).Inc()
}

// IncPacketsDropped increments the dropped-packet counter for component,
// labeled with reason.
func (c *Collector) IncPacketsDropped(component, reason string) {
	c.PacketsDropped.WithLabelValues(component, reason).Inc()
}

// SetAllocatedPorts sets the allocated-port gauge for a NAT's transport
// (tcp/udp) port map.
func (c *Collector) SetAllocatedPorts(component, transport string, n int) {
	c.AllocatedPorts.WithLabelValues(component, transport).Set(float64(n))
}
