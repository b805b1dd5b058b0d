// Package otel binds broker metrics to an OpenTelemetry Meter.
//
// Every counter is an Int64ObservableCounter. Rate-limit rejections share one
// instrument, otpbroker_rate_limited_total, with a "purpose" attribute.
// Latency histograms are published as a cumulative `_bucket` gauge keyed by
// an "le" attribute plus a `_count` counter, and are skipped while latency
// collection is off. A single callback takes one snapshot per collection.
// The caller owns the MeterProvider.
package otel
