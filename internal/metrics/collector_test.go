package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/netsim/netsim/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.ActiveInterfaces == nil {
		t.Error("ActiveInterfaces is nil")
	}
	if c.PacketsForwarded == nil {
		t.Error("PacketsForwarded is nil")
	}
	if c.PacketsDropped == nil {
		t.Error("PacketsDropped is nil")
	}
	if c.AllocatedPorts == nil {
		t.Error("AllocatedPorts is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestActiveInterfacesIncDec(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncActiveInterfaces("hub0")
	c.IncActiveInterfaces("hub0")
	if got := gaugeValue(t, c.ActiveInterfaces, "hub0"); got != 2 {
		t.Errorf("ActiveInterfaces(hub0) = %v, want 2", got)
	}

	c.DecActiveInterfaces("hub0")
	if got := gaugeValue(t, c.ActiveInterfaces, "hub0"); got != 1 {
		t.Errorf("ActiveInterfaces(hub0) = %v, want 1", got)
	}
}

func TestPacketsForwardedAndDropped(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncPacketsForwarded("nat0")
	c.IncPacketsForwarded("nat0")
	c.IncPacketsForwarded("nat0")
	if got := counterValue(t, c.PacketsForwarded, "nat0"); got != 3 {
		t.Errorf("PacketsForwarded(nat0) = %v, want 3", got)
	}

	c.IncPacketsDropped("nat0", "backpressure")
	c.IncPacketsDropped("nat0", "backpressure")
	c.IncPacketsDropped("nat0", "unmapped")
	if got := counterValue(t, c.PacketsDropped, "nat0", "backpressure"); got != 2 {
		t.Errorf("PacketsDropped(nat0,backpressure) = %v, want 2", got)
	}
	if got := counterValue(t, c.PacketsDropped, "nat0", "unmapped"); got != 1 {
		t.Errorf("PacketsDropped(nat0,unmapped) = %v, want 1", got)
	}
}

func TestAllocatedPortsGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetAllocatedPorts("nat0", "tcp", 5)
	c.SetAllocatedPorts("nat0", "udp", 12)

	if got := gaugeValue(t, c.AllocatedPorts, "nat0", "tcp"); got != 5 {
		t.Errorf("AllocatedPorts(nat0,tcp) = %v, want 5", got)
	}
	if got := gaugeValue(t, c.AllocatedPorts, "nat0", "udp"); got != 12 {
		t.Errorf("AllocatedPorts(nat0,udp) = %v, want 12", got)
	}

	c.SetAllocatedPorts("nat0", "tcp", 3)
	if got := gaugeValue(t, c.AllocatedPorts, "nat0", "tcp"); got != 3 {
		t.Errorf("AllocatedPorts(nat0,tcp) after update = %v, want 3", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
