package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DeviceSample is one device's state at scrape time.
type DeviceSample struct {
	Name        string
	Size        int64
	OpenHandles int
	Reset       bool
}

// DeviceSource reports the current state of every device.
type DeviceSource interface {
	DeviceSamples() []DeviceSample
}

// DeviceCollector reads per-device values from a DeviceSource on each scrape,
// so sizes never go stale between growth events.
type DeviceCollector struct {
	src DeviceSource

	size    *prometheus.Desc
	handles *prometheus.Desc
	reset   *prometheus.Desc
}

var _ prometheus.Collector = (*DeviceCollector)(nil)

// NewDeviceCollector creates a collector over src.
func NewDeviceCollector(src DeviceSource) *DeviceCollector {
	return &DeviceCollector{
		src: src,
		size: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "size_bytes"),
			"Current device buffer size.",
			[]string{"device"}, nil),
		handles: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "open_handles"),
			"Handles bound to the device.",
			[]string{"device"}, nil),
		reset: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "reset"),
			"1 if the device reads as empty until the next write.",
			[]string{"device"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *DeviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.handles
	ch <- c.reset
}

// Collect implements prometheus.Collector.
func (c *DeviceCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.DeviceSamples() {
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), s.Name)
		ch <- prometheus.MustNewConstMetric(c.handles, prometheus.GaugeValue, float64(s.OpenHandles), s.Name)
		reset := 0.0
		if s.Reset {
			reset = 1
		}
		ch <- prometheus.MustNewConstMetric(c.reset, prometheus.GaugeValue, reset, s.Name)
	}
}
