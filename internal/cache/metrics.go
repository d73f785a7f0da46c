// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments cache behavior. A nil *Metrics disables recording, so
// callers never guard call sites.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
	Live      prometheus.Gauge
	PageLoads *prometheus.CounterVec
}

// NewMetrics creates and registers cache metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatherline_cache_hits_total",
			Help: "Total number of entity fetches served from the cache",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatherline_cache_misses_total",
			Help: "Total number of entity fetches requiring a store read",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatherline_cache_evictions_total",
			Help: "Total number of entities evicted from the cache",
		}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatherline_cache_live_entities",
			Help: "Number of entities currently held by the cache",
		}),
		PageLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatherline_cache_page_loads_total",
			Help: "Total number of query page loads by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Hits, m.Misses, m.Evictions, m.Live, m.PageLoads)
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) trackLive(delta int) {
	if m != nil {
		m.Live.Add(float64(delta))
	}
}

func (m *Metrics) pageLoad(outcome string) {
	if m != nil {
		m.PageLoads.WithLabelValues(outcome).Inc()
	}
}
