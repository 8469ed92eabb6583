/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/MartinFretigne/rohc/compressor"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/profile"
)

type fakeSource struct {
	stats    compressor.Stats
	contexts []compressor.PacketInfo
}

func (f fakeSource) Stats() compressor.Stats          { return f.stats }
func (f fakeSource) Contexts() []compressor.PacketInfo { return f.contexts }

func collectAll(t *testing.T, c prometheus.Collector) []*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	var out []*dto.Metric
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		out = append(out, &pb)
	}
	return out
}

func TestDescribe_EmitsFourDescriptors(t *testing.T) {
	c := NewCompressorCollector(fakeSource{}, nil)
	descs := make(chan *prometheus.Desc, 8)
	c.Describe(descs)
	close(descs)

	var count int
	for range descs {
		count++
	}
	require.Equal(t, 4, count)
}

func TestCollect_ReportsCountersAndContextState(t *testing.T) {
	source := fakeSource{
		stats: compressor.Stats{
			ContextCount:  2,
			IRRefreshes:   5,
			PacketsByType: map[packet.Type]uint64{packet.TypeIR: 5, packet.TypeUO0: 12},
		},
		contexts: []compressor.PacketInfo{
			{CID: 0, ProfileID: packet.ProfileUDP, State: profile.StateSO},
			{CID: 1, ProfileID: packet.ProfileUncompressed, State: profile.StateIR},
		},
	}
	c := NewCompressorCollector(source, nil)
	metrics := collectAll(t, c)

	// 1 contexts gauge + 1 ir_refreshes counter + 2 packet-type counters + 2 context-state gauges.
	require.Len(t, metrics, 6)

	var sawContexts, sawIRRefreshes bool
	for _, m := range metrics {
		if m.Gauge != nil && m.Gauge.GetValue() == 2 && len(m.Label) == 0 {
			sawContexts = true
		}
		if m.Counter != nil && m.Counter.GetValue() == 5 && len(m.Label) == 0 {
			sawIRRefreshes = true
		}
	}
	require.True(t, sawContexts, "expected the context-count gauge")
	require.True(t, sawIRRefreshes, "expected the ir-refreshes counter")
}

func TestCollect_NoContexts_StillReportsCounters(t *testing.T) {
	c := NewCompressorCollector(fakeSource{stats: compressor.Stats{PacketsByType: map[packet.Type]uint64{}}}, nil)
	metrics := collectAll(t, c)
	require.Len(t, metrics, 2)
}
