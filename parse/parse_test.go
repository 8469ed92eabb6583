/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package parse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ipv4UDPPacket(srcPort, dstPort, checksum uint16) []byte {
	pkt := make([]byte, 28)
	pkt[0] = 0x45 // version 4, IHL 5
	pkt[9] = 17   // UDP
	pkt[12], pkt[13], pkt[14], pkt[15] = 10, 0, 0, 1
	pkt[16], pkt[17], pkt[18], pkt[19] = 10, 0, 0, 2
	pkt[20] = byte(srcPort >> 8)
	pkt[21] = byte(srcPort)
	pkt[22] = byte(dstPort >> 8)
	pkt[23] = byte(dstPort)
	pkt[26] = byte(checksum >> 8)
	pkt[27] = byte(checksum)
	return pkt
}

func TestHeaders_UDP(t *testing.T) {
	hdrs, err := Headers(ipv4UDPPacket(1000, 2000, 0xbeef))
	require.NoError(t, err)
	require.True(t, hdrs.HasUDP)
	require.Equal(t, uint16(1000), hdrs.UDPSrcPort)
	require.Equal(t, uint16(2000), hdrs.UDPDstPort)
	require.Equal(t, uint16(0xbeef), hdrs.UDPChecksum)
}

func TestHeaders_TooShort(t *testing.T) {
	_, err := Headers([]byte{0x45, 0x00})
	require.Error(t, err)
}

func TestHeaders_UnsupportedVersion(t *testing.T) {
	pkt := ipv4UDPPacket(1, 2, 3)
	pkt[0] = 0x65
	_, err := Headers(pkt)
	require.Error(t, err)
}
