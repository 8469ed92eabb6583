/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package parse turns a raw IPv4 packet (optionally carrying a UDP
// datagram) into the profile.Headers the core operates on. It is
// header-parsing support — not part of the compression core itself, but
// the minimum needed to drive it from real bytes. It supplies no
// timestamp; callers pass their own to Compress.
package parse

import (
	"encoding/binary"
	"fmt"

	"github.com/MartinFretigne/rohc/profile"
)

const (
	protoUDP = 17
)

// Headers parses raw as an IPv4 header, optionally followed by a UDP
// header when the protocol field says so.
func Headers(raw []byte) (profile.Headers, error) {
	if len(raw) < 20 {
		return profile.Headers{}, fmt.Errorf("parse: packet too short for an IPv4 header (%d bytes)", len(raw))
	}
	if raw[0]>>4 != 4 {
		return profile.Headers{}, fmt.Errorf("parse: unsupported IP version %d", raw[0]>>4)
	}

	ihl := int(raw[0]&0x0f) * 4
	if ihl < 20 || len(raw) < ihl {
		return profile.Headers{}, fmt.Errorf("parse: invalid IHL %d", ihl)
	}

	hdrs := profile.Headers{
		Raw:        raw,
		IPVersion:  4,
		IPProtocol: int(raw[9]),
		TTL:        int(raw[8]),
		IPID:       binary.BigEndian.Uint16(raw[4:6]),
		SrcAddr:    append([]byte(nil), raw[12:16]...),
		DstAddr:    append([]byte(nil), raw[16:20]...),
	}

	if hdrs.IPProtocol == protoUDP {
		if len(raw) < ihl+8 {
			return profile.Headers{}, fmt.Errorf("parse: packet too short for a UDP header")
		}
		udp := raw[ihl : ihl+8]
		hdrs.HasUDP = true
		hdrs.UDPSrcPort = binary.BigEndian.Uint16(udp[0:2])
		hdrs.UDPDstPort = binary.BigEndian.Uint16(udp[2:4])
		hdrs.UDPChecksum = binary.BigEndian.Uint16(udp[6:8])
	}

	return hdrs, nil
}
