package otel

import (
	"context"
	"errors"
	"fmt"

	otpbroker "github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is read once per collection. *otpbroker.Engine satisfies it.
type Source interface {
	MetricsSnapshot() otpbroker.MetricsSnapshot
	AuditDropped() uint64
}

type counter struct {
	id   otpbroker.MetricID
	inst metric.Int64ObservableCounter
}

type purposeSeries struct {
	id   otpbroker.MetricID
	attr metric.ObserveOption
}

type latency struct {
	id      otpbroker.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableCounter
}

// Exporter publishes broker metrics through observable instruments.
type Exporter struct {
	source Source

	counters     []counter
	rateLimited  metric.Int64ObservableCounter
	purposes     []purposeSeries
	latencies    []latency
	leAttrs      []metric.ObserveOption
	auditDropped metric.Int64ObservableCounter

	registration metric.Registration
}

// New registers the broker instruments on meter.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		inst, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counter{id: def.ID, inst: inst})
		observables = append(observables, inst)
	}

	rateLimited, err := meter.Int64ObservableCounter(internaldefs.RateLimitedName, metric.WithDescription(internaldefs.RateLimitedHelp))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.RateLimitedName, err)
	}
	e.rateLimited = rateLimited
	observables = append(observables, rateLimited)
	for _, def := range internaldefs.RateLimitDefs {
		set := attribute.NewSet(attribute.String(internaldefs.RateLimitedLabel, def.Purpose))
		e.purposes = append(e.purposes, purposeSeries{id: def.ID, attr: metric.WithAttributeSet(set)})
	}

	for _, le := range internaldefs.BucketLabels {
		e.leAttrs = append(e.leAttrs, metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le))))
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket", metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("gauge %s_bucket: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableCounter(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("counter %s_count: %w", def.Name, err)
		}
		e.latencies = append(e.latencies, latency{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	auditDropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		o.ObserveInt64(c.inst, int64(snap.Counters[c.id]))
	}
	for _, p := range e.purposes {
		o.ObserveInt64(e.rateLimited, int64(snap.Counters[p.id]), p.attr)
	}
	for _, l := range e.latencies {
		raw, ok := snap.Histograms[l.id]
		if !ok {
			// latency histograms are off
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, attr := range e.leAttrs {
			o.ObserveInt64(l.buckets, int64(cumulative[i]), attr)
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
