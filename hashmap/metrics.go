// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hashmap

import "github.com/prometheus/client_golang/prometheus"

// metricsRegisterer is the subset of *prometheus.Registry that
// WithMetrics needs.
type metricsRegisterer interface {
	MustRegister(...prometheus.Collector)
}

type metrics struct {
	inserts      prometheus.Counter
	removes      prometheus.Counter
	lookups      prometheus.Counter
	lookupHits   prometheus.Counter
	lookupMisses prometheus.Counter
	nusedGauge   prometheus.Gauge
}

func newMetrics(reg metricsRegisterer) *metrics {
	m := &metrics{
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashmap",
			Name:      "inserts_total",
			Help:      "Number of Insert calls completed.",
		}),
		removes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashmap",
			Name:      "removes_total",
			Help:      "Number of Remove calls that unlinked an entry.",
		}),
		lookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashmap",
			Name:      "lookups_total",
			Help:      "Number of Lookup calls.",
		}),
		lookupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashmap",
			Name:      "lookup_hits_total",
			Help:      "Number of Lookup calls that found a matching entry.",
		}),
		lookupMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashmap",
			Name:      "lookup_misses_total",
			Help:      "Number of Lookup calls that found no matching entry.",
		}),
		nusedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hashmap",
			Name:      "entries_used",
			Help:      "Advisory count of entries currently linked into the table.",
		}),
	}
	reg.MustRegister(
		m.inserts,
		m.removes,
		m.lookups,
		m.lookupHits,
		m.lookupMisses,
		m.nusedGauge,
	)
	return m
}
