// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package hazard

import "github.com/prometheus/client_golang/prometheus"

// metricsRegisterer is the subset of *prometheus.Registry that WithMetrics
// needs; it lets callers pass either the global registry or a private one
// built for tests.
type metricsRegisterer interface {
	MustRegister(...prometheus.Collector)
}

type metrics struct {
	handlesRegistered prometheus.Counter
	acquires          prometheus.Counter
	retires           prometheus.Counter
	scans             prometheus.Counter
	reclaimed         prometheus.Counter
	publishedGauge    prometheus.Gauge
	scanDuration      prometheus.Histogram
}

func newMetrics(reg metricsRegisterer) *metrics {
	m := &metrics{
		handlesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard",
			Name:      "handles_registered_total",
			Help:      "Number of goroutines that have registered a hazard pointer handle.",
		}),
		acquires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard",
			Name:      "acquires_total",
			Help:      "Number of hazard pointer acquisitions performed.",
		}),
		retires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard",
			Name:      "retires_total",
			Help:      "Number of pointers handed to Retire.",
		}),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard",
			Name:      "scans_total",
			Help:      "Number of retirement scans performed.",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard",
			Name:      "reclaimed_total",
			Help:      "Number of retired nodes actually freed by a scan.",
		}),
		publishedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hazard",
			Name:      "published_pointers",
			Help:      "Number of hazard pointers currently published.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hazard",
			Name:      "scan_duration_seconds",
			Help:      "Time taken to run a retirement scan.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.handlesRegistered,
		m.acquires,
		m.retires,
		m.scans,
		m.reclaimed,
		m.publishedGauge,
		m.scanDuration,
	)
	return m
}
