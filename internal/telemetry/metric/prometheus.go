package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memdev"

// Op results used as the "result" label of memdev_ops_total.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Byte directions used as the "direction" label of memdev_bytes_total.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// Registry holds all application metrics on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	Devices     prometheus.Gauge
	HandlesOpen prometheus.Gauge
	BufferGrow  prometheus.Counter

	OpsTotal    *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	BytesTotal  *prometheus.CounterVec
	GrowBytes   prometheus.Counter
	InitFailure *prometheus.CounterVec

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
}

// NewRegistry creates a registry with all metrics registered, plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,

		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Number of devices in the table.",
		}),
		HandlesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handles_open",
			Help:      "Number of open device handles.",
		}),
		BufferGrow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_grow_total",
			Help:      "Number of device buffer growth events.",
		}),
		GrowBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_grow_bytes_total",
			Help:      "Bytes added to device buffers by growth.",
		}),
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_total",
			Help:      "Device operations by name and result.",
		}, []string{"op", "result"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "op_duration_seconds",
			Help:      "Device operation latency, including lock wait.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"op"}),
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes transferred to or from devices.",
		}, []string{"direction"}),
		InitFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "init_failures_total",
			Help:      "Device table initialization failures by phase.",
		}, []string{"phase"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served by protocol, method and status.",
		}, []string{"protocol", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency by protocol and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol", "method"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"protocol"}),
	}

	reg.MustRegister(
		r.Devices,
		r.HandlesOpen,
		r.BufferGrow,
		r.GrowBytes,
		r.OpsTotal,
		r.OpDuration,
		r.BytesTotal,
		r.InitFailure,
		r.RequestsTotal,
		r.RequestDuration,
		r.RateLimited,
	)
	return r
}

// Handler returns an HTTP handler exposing this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		Registry: r.registry,
	})
}

// Register adds an extra collector, such as a DeviceCollector.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.registry.Register(c)
}

// Unregister removes a collector added with Register.
func (r *Registry) Unregister(c prometheus.Collector) bool {
	return r.registry.Unregister(c)
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// SetDevices records the device count.
func (r *Registry) SetDevices(n int) {
	r.Devices.Set(float64(n))
}

// IncHandles records a handle being opened.
func (r *Registry) IncHandles() {
	r.HandlesOpen.Inc()
}

// DecHandles records a handle being released.
func (r *Registry) DecHandles() {
	r.HandlesOpen.Dec()
}

// RecordOp counts one device operation and its latency.
func (r *Registry) RecordOp(op string, err error, seconds float64) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	r.OpsTotal.WithLabelValues(op, result).Inc()
	r.OpDuration.WithLabelValues(op).Observe(seconds)
}

// AddBytes counts bytes moved in the given direction.
func (r *Registry) AddBytes(direction string, n int) {
	if n > 0 {
		r.BytesTotal.WithLabelValues(direction).Add(float64(n))
	}
}

// RecordGrow counts one buffer growth from one size to another.
func (r *Registry) RecordGrow(from, to int64) {
	r.BufferGrow.Inc()
	if to > from {
		r.GrowBytes.Add(float64(to - from))
	}
}

// RecordInitFailure counts a failed table initialization.
func (r *Registry) RecordInitFailure(phase string) {
	r.InitFailure.WithLabelValues(phase).Inc()
}

// RecordRequest counts one request on a front end.
func (r *Registry) RecordRequest(protocol, method, status string) {
	r.RequestsTotal.WithLabelValues(protocol, method, status).Inc()
}

// ObserveRequestDuration records request latency.
func (r *Registry) ObserveRequestDuration(protocol, method string, seconds float64) {
	r.RequestDuration.WithLabelValues(protocol, method).Observe(seconds)
}

// IncRateLimited counts a request rejected by the limiter.
func (r *Registry) IncRateLimited(protocol string) {
	r.RateLimited.WithLabelValues(protocol).Inc()
}
