// Package metric provides the Prometheus metrics of the device server.
//
//   - prometheus.go: the Registry, its counters and histograms, and the
//     /metrics handler
//   - collector.go: a scrape-time collector reporting per-device size and
//     open handle counts
//
// All metric names carry the "memdev_" prefix.
package metric
