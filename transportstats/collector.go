/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package transportstats

import (
	"fmt"
	"net"
	"sync"

	"github.com/higebu/netfd"
	"github.com/prometheus/client_golang/prometheus"
)

type channelInfo struct {
	description *prometheus.Desc
	supplier    func(health *ChannelHealth, labelValues []string) prometheus.Metric
}

type channelEntry struct {
	fd     int
	labels []string
}

// FeedbackChannelCollector is a Prometheus collector over a set of
// feedback-carrying TCP connections (spec.md §9's external feedback
// transport), one gauge for each of eight ChannelHealth fields (State and
// BytesReceived are not exported).
type FeedbackChannelCollector struct {
	conns  map[net.Conn]channelEntry
	mu     sync.Mutex
	logger func(error)
	infos  []channelInfo
}

func (c *FeedbackChannelCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.description
	}
}

func (c *FeedbackChannelCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for conn, entry := range c.conns {
		health, err := GetChannelHealth(entry.fd)
		if err != nil {
			c.logger(fmt.Errorf("error getting feedback channel health (removing conn %v -> %v): %w",
				conn.LocalAddr(), conn.RemoteAddr(), err))
			delete(c.conns, conn)
			continue
		}

		for _, info := range c.infos {
			metrics <- info.supplier(health, entry.labels)
		}
	}
}

// Add starts tracking conn, which must carry ROHC feedback traffic, under
// the given label values (matching the labels passed to
// NewFeedbackChannelCollector).
func (c *FeedbackChannelCollector) Add(conn net.Conn, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns[conn] = channelEntry{
		fd:     netfd.GetFdFromConn(conn),
		labels: labels,
	}
}

// Remove stops tracking conn, e.g. once it closes.
func (c *FeedbackChannelCollector) Remove(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}

// NewFeedbackChannelCollector builds a collector. connectionLabels names
// the per-connection label values callers will supply to Add (e.g. remote
// address); constLabels are fixed for the process lifetime (e.g. instance
// name); errorLoggingCallback is invoked whenever a tracked connection's
// health can no longer be read (it is then dropped).
func NewFeedbackChannelCollector(
	prefix string,
	connectionLabels []string,
	constLabels prometheus.Labels,
	errorLoggingCallback func(error),
) *FeedbackChannelCollector {
	c := &FeedbackChannelCollector{
		conns:  make(map[net.Conn]channelEntry),
		logger: errorLoggingCallback,
	}
	c.addMetrics(prefix, connectionLabels, constLabels)
	return c
}

// addMetrics builds the descriptor table by hand. cmd/rohc-metrics-gen can
// emit a generatedChannelInfos table from ChannelHealth's struct tags, but
// this collector does not call it; the hand-written table covers eight of
// the ten tagged fields.
func (c *FeedbackChannelCollector) addMetrics(prefix string, connectionLabels []string, constLabels prometheus.Labels) {
	newDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prefix+name, help, connectionLabels, constLabels)
	}

	retransmits := newDesc("retransmits", "Number of timeouts (RTO based retransmissions) at this sequence.")
	lost := newDesc("lost", "Scoreboard segments marked lost by loss detection heuristics.")
	retrans := newDesc("retrans", "Scoreboard segments marked retransmitted.")
	rtt := newDesc("rtt", "Smoothed round trip time, in microseconds.")
	rttvar := newDesc("rttvar", "Round trip time variance, in microseconds.")
	sndCWnd := newDesc("snd_cwnd", "Congestion window.")
	minRTT := newDesc("min_rtt", "Minimum observed RTT, in microseconds (-1 if unavailable on this kernel).")
	bytesAcked := newDesc("bytes_acked", "Data bytes for which cumulative acknowledgments have been received.")

	c.infos = []channelInfo{
		{
			description: retransmits,
			supplier: func(h *ChannelHealth, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(retransmits, prometheus.GaugeValue, float64(h.Retransmits), lv...)
			},
		},
		{
			description: lost,
			supplier: func(h *ChannelHealth, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(lost, prometheus.GaugeValue, float64(h.Lost), lv...)
			},
		},
		{
			description: retrans,
			supplier: func(h *ChannelHealth, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(retrans, prometheus.GaugeValue, float64(h.Retrans), lv...)
			},
		},
		{
			description: rtt,
			supplier: func(h *ChannelHealth, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(rtt, prometheus.GaugeValue, float64(h.RTT), lv...)
			},
		},
		{
			description: rttvar,
			supplier: func(h *ChannelHealth, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(rttvar, prometheus.GaugeValue, float64(h.RTTVar), lv...)
			},
		},
		{
			description: sndCWnd,
			supplier: func(h *ChannelHealth, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(sndCWnd, prometheus.GaugeValue, float64(h.SndCWnd), lv...)
			},
		},
		{
			description: minRTT,
			supplier: func(h *ChannelHealth, lv []string) prometheus.Metric {
				v := -1.0
				if h.MinRTT.Valid {
					v = float64(h.MinRTT.Value)
				}
				return prometheus.MustNewConstMetric(minRTT, prometheus.GaugeValue, v, lv...)
			},
		},
		{
			description: bytesAcked,
			supplier: func(h *ChannelHealth, lv []string) prometheus.Metric {
				v := -1.0
				if h.BytesAcked.Valid {
					v = float64(h.BytesAcked.Value)
				}
				return prometheus.MustNewConstMetric(bytesAcked, prometheus.GaugeValue, v, lv...)
			},
		},
	}
}
