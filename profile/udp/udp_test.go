/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package udp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MartinFretigne/rohc/internal/cid"
	"github.com/MartinFretigne/rohc/internal/crc"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/profile"
)

func newTestContext(oaRepetitionsNR int) (*Context, profile.Env) {
	p := New(cid.Small, 0, oaRepetitionsNR, 1000)
	env := profile.Env{CRC: crc.NewTables(), Random: func() uint16 { return 42 }}
	hdrs := profile.Headers{HasUDP: true, UDPSrcPort: 1000, UDPDstPort: 2000, UDPChecksum: 0x1234}
	ctx := p.NewContext(env, hdrs).(*Context)
	return ctx, env
}

// TestFirstPacketIsIR grounds spec.md scenario S2's first assertion: a new
// context's first packet always carries the full static+dynamic chain.
func TestFirstPacketIsIR(t *testing.T) {
	ctx, env := newTestContext(1)
	hdrs := profile.Headers{HasUDP: true, UDPSrcPort: 1000, UDPDstPort: 2000, UDPChecksum: 0x1234}
	out := make([]byte, 64)

	res, err := ctx.Encode(env, hdrs, time.Now(), out)
	require.NoError(t, err)
	require.Equal(t, packet.TypeIR, res.Type)
}

// TestSteadyFlow_ReachesSO is the shape of spec.md scenario S2: once a
// flow settles (identical headers, SN only advancing), the context
// eventually reaches SO and starts emitting UO-0. With oa_repetitions_nr=1
// every non-surprised packet advances one state level.
func TestSteadyFlow_ReachesSO(t *testing.T) {
	ctx, env := newTestContext(1)
	hdrs := profile.Headers{HasUDP: true, UDPSrcPort: 1000, UDPDstPort: 2000, UDPChecksum: 0x1234}
	out := make([]byte, 64)

	var last packet.Type
	for i := 0; i < 5; i++ {
		res, err := ctx.Encode(env, hdrs, time.Now(), out)
		require.NoError(t, err)
		last = res.Type
	}

	require.Equal(t, profile.StateSO, ctx.State())
	require.Contains(t, []packet.Type{packet.TypeUO0, packet.TypeUO1}, last)
}

// TestChecksumToggle_ForcesIR is spec.md §8 property 3 / scenario S3: a
// checksum presence toggle must force IR for oa_repetitions_nr consecutive
// packets.
func TestChecksumToggle_ForcesIR(t *testing.T) {
	const oaRepetitionsNR = 3
	ctx, env := newTestContext(oaRepetitionsNR)
	out := make([]byte, 64)

	steady := profile.Headers{HasUDP: true, UDPSrcPort: 1000, UDPDstPort: 2000, UDPChecksum: 0x1234}
	for i := 0; i < 5; i++ {
		_, err := ctx.Encode(env, steady, time.Now(), out)
		require.NoError(t, err)
	}

	flipped := steady
	flipped.UDPChecksum = 0x0000

	for i := 0; i < oaRepetitionsNR; i++ {
		res, err := ctx.Encode(env, flipped, time.Now(), out)
		require.NoError(t, err)
		require.Equal(t, packet.TypeIR, res.Type, "packet %d after toggle", i+1)
	}
}

func TestMatch_ChecksPorts(t *testing.T) {
	ctx, env := newTestContext(3)
	p := New(cid.Small, 0, 3, 1000)

	require.True(t, p.Match(ctx, profile.Headers{HasUDP: true, UDPSrcPort: 1000, UDPDstPort: 2000}))
	require.False(t, p.Match(ctx, profile.Headers{HasUDP: true, UDPSrcPort: 1, UDPDstPort: 2000}))
	require.False(t, p.Match(ctx, profile.Headers{HasUDP: false}))
	_ = env
}
