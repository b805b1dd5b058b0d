// Package prometheus exposes broker metrics as a prometheus.Collector.
//
// Counters are named otpbroker_*_total. SendOTP and Validate latencies are
// histograms in seconds. Nothing is registered globally; mount [Handler] or
// register the [Collector] on your own registry.
package prometheus
