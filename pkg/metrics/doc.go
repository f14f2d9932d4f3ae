// Package metrics defines and registers the Prometheus metrics for the
// coordination pipeline and exposes them over HTTP. The Collector feeds
// the counters from lifecycle events published on the broker; the latency
// histograms are observed directly at the call sites via Timer.
package metrics
