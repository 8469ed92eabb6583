/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package metrics exposes a compressor's running state as Prometheus
// metrics, following the teacher's exporter.TCPInfoCollector shape
// (pkg/exporter/exporter.go): four descriptors held as collector fields and
// built once at construction, with Collect re-querying the live source on
// every scrape rather than caching values between scrapes.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MartinFretigne/rohc/compressor"
)

// Source is the subset of *compressor.Compressor the collector reads.
// Defined as an interface so tests can supply a fake without a real
// compressor instance.
type Source interface {
	Stats() compressor.Stats
	Contexts() []compressor.PacketInfo
}

// CompressorCollector implements prometheus.Collector over one
// compressor's Stats() and Contexts() snapshots.
type CompressorCollector struct {
	source Source

	contexts    *prometheus.Desc
	irRefreshes *prometheus.Desc
	byState     *prometheus.Desc
	byType      *prometheus.Desc
}

// NewCompressorCollector builds a collector for source, labeling every
// metric with constLabels (e.g. a compressor instance name).
func NewCompressorCollector(source Source, constLabels prometheus.Labels) *CompressorCollector {
	return &CompressorCollector{
		source: source,
		contexts: prometheus.NewDesc("rohc_compressor_contexts",
			"Number of live compression contexts.", nil, constLabels),
		irRefreshes: prometheus.NewDesc("rohc_compressor_ir_refreshes_total",
			"Total IR/Uncompressed-IR packets emitted.", nil, constLabels),
		byState: prometheus.NewDesc("rohc_compressor_context_state",
			"Current state (0=IR,1=FO,2=SO) of a context.", []string{"cid", "profile"}, constLabels),
		byType: prometheus.NewDesc("rohc_compressor_packets_total",
			"Total packets emitted, by packet type.", []string{"type"}, constLabels),
	}
}

func (c *CompressorCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.contexts
	descs <- c.irRefreshes
	descs <- c.byState
	descs <- c.byType
}

func (c *CompressorCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.contexts, prometheus.GaugeValue, float64(stats.ContextCount))
	ch <- prometheus.MustNewConstMetric(c.irRefreshes, prometheus.CounterValue, float64(stats.IRRefreshes))

	for typ, n := range stats.PacketsByType {
		ch <- prometheus.MustNewConstMetric(c.byType, prometheus.CounterValue, float64(n), typ.String())
	}

	for _, ctx := range c.source.Contexts() {
		ch <- prometheus.MustNewConstMetric(c.byState, prometheus.GaugeValue, float64(ctx.State),
			strconv.Itoa(ctx.CID), ctx.ProfileID.String())
	}
}
