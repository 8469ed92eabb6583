/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package compressor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MartinFretigne/rohc/internal/cid"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/profile"
)

func newTestCompressor(t *testing.T) *Compressor {
	t.Helper()
	c, err := New(Config{MaxCID: 15, OARepetitionsNR: 1, PeriodicRefreshIRTimeout: 1000})
	require.NoError(t, err)
	return c
}

func udpHeaders(checksum uint16) profile.Headers {
	return profile.Headers{
		Raw:         []byte{0x45, 0x00},
		HasUDP:      true,
		UDPSrcPort:  1000,
		UDPDstPort:  2000,
		UDPChecksum: checksum,
	}
}

func TestCompress_FirstPacketIsIR_CID0HasNoAddOctet(t *testing.T) {
	c := newTestCompressor(t)
	require.NoError(t, c.ActivateProfile(packet.ProfileUDP))

	out := make([]byte, 64)
	n, typ, err := c.Compress(udpHeaders(0x1234), time.Now(), out)
	require.NoError(t, err)
	require.Equal(t, packet.TypeIR, typ)
	require.NotEqual(t, byte(0xe0), out[0]&0xf0, "CID 0 must not carry an Add-CID octet")

	info := c.LastPacketInfo()
	require.Equal(t, 0, info.CID)
	require.Equal(t, packet.ProfileUDP, info.ProfileID)
	require.Greater(t, n, 0)
}

func TestCompress_ReusesContextForSameFlow(t *testing.T) {
	c := newTestCompressor(t)
	require.NoError(t, c.ActivateProfile(packet.ProfileUDP))

	out := make([]byte, 64)
	_, _, err := c.Compress(udpHeaders(0x1234), time.Now(), out)
	require.NoError(t, err)
	_, _, err = c.Compress(udpHeaders(0x1234), time.Now(), out)
	require.NoError(t, err)

	require.Len(t, c.Contexts(), 1)
}

func TestCompress_NoProfileMatches(t *testing.T) {
	c := newTestCompressor(t)
	out := make([]byte, 64)
	_, _, err := c.Compress(udpHeaders(0x1234), time.Now(), out)
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestCompress_OutputTooSmall(t *testing.T) {
	c := newTestCompressor(t)
	require.NoError(t, c.ActivateProfile(packet.ProfileUDP))

	out := make([]byte, 1)
	_, _, err := c.Compress(udpHeaders(0x1234), time.Now(), out)
	require.ErrorIs(t, err, ErrCapacity)
}

func TestActivateProfile_UnknownIsError(t *testing.T) {
	c := newTestCompressor(t)
	err := c.ActivateProfile(packet.ProfileRTP)
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestLRUEviction_WhenTableFull(t *testing.T) {
	c, err := New(Config{MaxCID: 0, OARepetitionsNR: 1, PeriodicRefreshIRTimeout: 1000})
	require.NoError(t, err)
	require.NoError(t, c.ActivateProfile(packet.ProfileUDP))

	out := make([]byte, 64)
	_, _, err = c.Compress(udpHeaders(0x1111), time.Now(), out)
	require.NoError(t, err)
	require.Len(t, c.Contexts(), 1)

	// A second, different flow must evict the first (MaxCID=0 means only
	// one context fits).
	flow2 := udpHeaders(0x2222)
	flow2.UDPSrcPort = 9999
	_, _, err = c.Compress(flow2, time.Now(), out)
	require.NoError(t, err)
	require.Len(t, c.Contexts(), 1)
}

func TestDeliverFeedback_Type1ACK(t *testing.T) {
	c := newTestCompressor(t)
	require.NoError(t, c.ActivateProfile(packet.ProfileUDP))

	out := make([]byte, 64)
	_, _, err := c.Compress(udpHeaders(0x1234), time.Now(), out)
	require.NoError(t, err)

	// CID 0: no Add-CID octet, just the bare type-1 feedback byte.
	err = c.DeliverFeedback([]byte{0x05})
	require.NoError(t, err)
}

func TestDeliverFeedback_UnknownCIDIsSilentlyDropped(t *testing.T) {
	c := newTestCompressor(t)
	err := c.DeliverFeedback([]byte{0x05})
	require.NoError(t, err)
}

func TestSetLargeCID_ChangesVariant(t *testing.T) {
	c := newTestCompressor(t)
	c.SetLargeCID(true)
	require.Equal(t, cid.Large, c.cidVariant())
}

func TestStats_TracksPacketsByType(t *testing.T) {
	c := newTestCompressor(t)
	require.NoError(t, c.ActivateProfile(packet.ProfileUDP))

	out := make([]byte, 64)
	_, _, err := c.Compress(udpHeaders(0x1234), time.Now(), out)
	require.NoError(t, err)

	stats := c.Stats()
	require.Equal(t, 1, stats.ContextCount)
	require.Equal(t, uint64(1), stats.PacketsByType[packet.TypeIR])
	require.Equal(t, uint64(1), stats.IRRefreshes)
}

func TestClose_ReleasesContexts(t *testing.T) {
	c := newTestCompressor(t)
	require.NoError(t, c.ActivateProfile(packet.ProfileUDP))
	out := make([]byte, 64)
	_, _, err := c.Compress(udpHeaders(0x1234), time.Now(), out)
	require.NoError(t, err)

	c.Close()
	require.Empty(t, c.Contexts())
}
