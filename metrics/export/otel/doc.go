// Package otel provides OpenTelemetry metric bindings for engine counters and
// histograms.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter and
// an Int64ObservableGauge per histogram bucket. A single callback reads
// [sessionguard.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
