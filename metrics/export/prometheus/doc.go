// Package prometheus provides a Prometheus text-format exporter for engine
// metrics.
//
// [NewPrometheusExporter] accepts a [sessionguard.Engine] and exposes an
// [net/http.Handler] that renders all counters and histograms in Prometheus
// text exposition format. Counter names are prefixed sessionguard_*_total;
// the single histogram is sessionguard_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the
//     Handler themselves.
//   - Mutate engine state.
package prometheus
