// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

// Package metrics exports engine statistics to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

const namespace = "sysexconf"

// Source is the engine state the collector reads at scrape time
type Source interface {
	Stats() sysexconf.Statistics
	IsConnectionOpen() bool
}

// Collector is a prometheus.Collector over one engine
type Collector struct {
	src Source

	received   *prometheus.Desc
	dropped    *prometheus.Desc
	replies    *prometheus.Desc
	suppressed *prometheus.Desc
	tolerated  *prometheus.Desc
	connection *prometheus.Desc
}

// NewCollector creates a collector labelled with the device name
func NewCollector(device string, src Source) *Collector {
	labels := prometheus.Labels{"device": device}
	return &Collector{
		src: src,
		received: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "messages", "received_total"),
			"Frames handed to the engine.",
			nil, labels,
		),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "messages", "dropped_total"),
			"Frames ignored without a reply.",
			[]string{"reason"}, labels,
		),
		replies: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "replies", "total"),
			"Replies handed to the transport, by status.",
			[]string{"status"}, labels,
		),
		suppressed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "replies", "suppressed_total"),
			"Replies withheld in quiet mode.",
			nil, labels,
		),
		tolerated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "storage", "errors_tolerated_total"),
			"Storage failures reported as success in tolerant mode.",
			nil, labels,
		),
		connection: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "open"),
			"1 while a host session is open.",
			nil, labels,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.received
	ch <- c.dropped
	ch <- c.replies
	ch <- c.suppressed
	ch <- c.tolerated
	ch <- c.connection
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Stats()

	ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(stats.Received))
	for reason, n := range stats.Dropped {
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(n), sysexconf.DropReason(reason).String())
	}
	for status, n := range stats.ByStatus {
		ch <- prometheus.MustNewConstMetric(c.replies, prometheus.CounterValue, float64(n), sysexconf.Status(status).String())
	}
	ch <- prometheus.MustNewConstMetric(c.suppressed, prometheus.CounterValue, float64(stats.Suppressed))
	ch <- prometheus.MustNewConstMetric(c.tolerated, prometheus.CounterValue, float64(stats.Tolerated))

	open := 0.0
	if c.src.IsConnectionOpen() {
		open = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connection, prometheus.GaugeValue, open)
}

// Guarded serialises access to an engine shared with a scrape goroutine
type Guarded struct {
	mu     sync.Mutex
	engine *sysexconf.Engine
}

// NewGuarded wraps engine
func NewGuarded(engine *sysexconf.Engine) *Guarded {
	return &Guarded{engine: engine}
}

// Stats implements Source
func (g *Guarded) Stats() sysexconf.Statistics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engine.Stats()
}

// IsConnectionOpen implements Source
func (g *Guarded) IsConnectionOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engine.IsConnectionOpen()
}

// Do runs fn with exclusive access to the engine
func (g *Guarded) Do(fn func(*sysexconf.Engine)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.engine)
}
