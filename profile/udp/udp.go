/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package udp implements the UDP profile overlay on top of the generic
// RFC3095 engine (spec.md §4.2), grounded on the original c_udp.c: static
// chain of the two UDP ports, dynamic chain of the checksum, a UO-remainder
// that reappends the checksum once the dynamic chain stops being sent, and
// checksum-toggle-driven state regression.
package udp

import (
	"encoding/binary"

	"github.com/MartinFretigne/rohc/internal/cid"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/profile"
	"github.com/MartinFretigne/rohc/profile/generic"
)

// Profile implements profile.Profile for ROHC profile 0x0002 (UDP).
type Profile struct {
	Config generic.Config
}

func New(cidVariant cid.Variant, cidValue, oaRepetitionsNR, periodicRefreshIRTimeout int) *Profile {
	return &Profile{Config: generic.Config{
		CIDVariant:               cidVariant,
		CID:                      cidValue,
		OARepetitionsNR:          oaRepetitionsNR,
		PeriodicRefreshIRTimeout: periodicRefreshIRTimeout,
	}}
}

func (p *Profile) ID() packet.ProfileID { return packet.ProfileUDP }

func (p *Profile) Applicable(hdrs profile.Headers) bool {
	return hdrs.HasUDP
}

func (p *Profile) Match(ctx profile.Context, hdrs profile.Headers) bool {
	c, ok := ctx.(*Context)
	if !ok || !hdrs.HasUDP {
		return false
	}
	return c.srcPort == hdrs.UDPSrcPort && c.dstPort == hdrs.UDPDstPort
}

func (p *Profile) NewContext(env profile.Env, hdrs profile.Headers) profile.Context {
	c := &Context{srcPort: hdrs.UDPSrcPort, dstPort: hdrs.UDPDstPort}
	c.Context = generic.NewContext(p.Config, env, generic.Hooks{
		CodeStaticPart:    c.codeStaticPart,
		CodeDynamicPart:   c.codeDynamicPart,
		CodeUORemainder:   c.codeUORemainder,
		Surprise:          c.changedUDPDynamic,
		ComputeCRCStatic:  c.computeCRCStatic,
		ComputeCRCDynamic: c.computeCRCDynamic,
	})
	c.oaRepetitionsNR = p.Config.OARepetitionsNR
	return c
}

// Context is the UDP profile's per-flow state (spec.md §3's UDP payload):
// the generic engine plus the previous UDP header and the checksum-change
// bookkeeping from udp_changed_udp_dynamic in c_udp.c.
type Context struct {
	*generic.Context

	srcPort, dstPort uint16

	oldChecksum            uint16
	udpChecksumChangeCount int
	oaRepetitionsNR        int
}

// encodeUDPPorts returns the two UDP ports, network order, the wire fields
// this profile's CRC-STATIC set and static chain both carry (spec.md §4.2,
// §4.6).
func encodeUDPPorts(hdrs profile.Headers) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], hdrs.UDPSrcPort)
	binary.BigEndian.PutUint16(b[2:4], hdrs.UDPDstPort)
	return b
}

// encodeChecksum returns the UDP checksum, network order, the wire field
// this profile's CRC-DYNAMIC set and dynamic chain both carry.
func encodeChecksum(hdrs profile.Headers) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, hdrs.UDPChecksum)
	return b
}

func (c *Context) codeStaticPart(hdrs profile.Headers, buf []byte) []byte {
	return append(buf, encodeUDPPorts(hdrs)...)
}

func (c *Context) codeDynamicPart(hdrs profile.Headers, buf []byte) ([]byte, bool) {
	c.udpChecksumChangeCount++
	c.oldChecksum = hdrs.UDPChecksum
	return append(buf, encodeChecksum(hdrs)...), false
}

// computeCRCStatic is the UDP profile's CRC-STATIC hook (c_udp.c's
// udp_compute_crc_static): the two UDP ports, same fields as the static
// chain, but read straight from hdrs so CRC computation never depends on
// whether this packet actually sends the static chain on the wire.
func (c *Context) computeCRCStatic(hdrs profile.Headers, buf []byte) []byte {
	return append(buf, encodeUDPPorts(hdrs)...)
}

// computeCRCDynamic is the UDP profile's CRC-DYNAMIC hook
// (udp_compute_crc_dynamic): the UDP checksum, same field as the dynamic
// chain, without codeDynamicPart's change-tracking side effects.
func (c *Context) computeCRCDynamic(hdrs profile.Headers, buf []byte) []byte {
	return append(buf, encodeChecksum(hdrs)...)
}

// codeUORemainder appends the current checksum to a UO packet iff the
// context's remembered checksum is non-zero (spec.md §4.2 UO-remainder).
func (c *Context) codeUORemainder(hdrs profile.Headers, buf []byte) []byte {
	if c.oldChecksum == 0 {
		return buf
	}
	return append(buf, encodeChecksum(hdrs)...)
}

// changedUDPDynamic is udp_changed_udp_dynamic from c_udp.c: a checksum
// presence toggle (zero<->non-zero) forces IR and resets the change
// counter; otherwise "changed" stays true until the counter has reached
// oa_repetitions_nr, keeping the dynamic chain flowing through the
// optimistic-approach settling period after a toggle.
func (c *Context) changedUDPDynamic(hdrs profile.Headers) bool {
	toggled := (c.oldChecksum == 0) != (hdrs.UDPChecksum == 0)
	if toggled {
		c.udpChecksumChangeCount = 0
		return true
	}
	return c.udpChecksumChangeCount < c.oaRepetitionsNR
}
