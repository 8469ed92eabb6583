/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package generic implements the RFC 3095 generic compressor engine shared
// by the IP-only, UDP and UDP-Lite profiles (spec.md §4.1): the IR/FO/SO
// state machine, the packet-type picker, and the W-LSB-driven SN and
// IP-ID tracking. A profile installs a Hooks value to supply its own
// static/dynamic chain coding and field-change detection; the engine
// itself never knows which profile it is serving (spec.md §9, "the
// generic-RFC3095 hook table becomes a trait/interface with concrete
// implementations per profile").
package generic

import (
	"fmt"
	"time"

	"github.com/MartinFretigne/rohc/internal/cid"
	"github.com/MartinFretigne/rohc/internal/crc"
	"github.com/MartinFretigne/rohc/internal/wlsb"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/profile"
)

// uor2BaseBits is the width of the SN remainder UOR-2's base octet carries
// before any extension is needed (spec.md §4.1's packet-type picker).
const uor2BaseBits = 6

// Config holds the compressor-wide tunables the engine consults (spec.md
// §3).
type Config struct {
	CIDVariant               cid.Variant
	CID                      int
	OARepetitionsNR          int
	PeriodicRefreshIRTimeout int
}

// Hooks is the per-profile behavior the generic engine is parameterized
// over (spec.md §3's Generic RFC3095 payload function hooks, spec.md §9's
// trait/interface translation of the source's function-pointer table).
type Hooks struct {
	// CodeStaticPart appends the profile's static chain to buf.
	CodeStaticPart func(hdrs profile.Headers, buf []byte) []byte
	// CodeDynamicPart appends the profile's dynamic chain to buf. changed
	// reports whether the profile considers its dynamic fields to have
	// just changed. The engine discards changed: it does not switch an
	// IR-DYN packet to IR on it; only Surprise forces IR.
	CodeDynamicPart func(hdrs profile.Headers, buf []byte) (out []byte, changed bool)
	// CodeUORemainder appends whatever profile-specific bytes a UO packet
	// carries after its SN/CRC bits (spec.md §4.2's UO-remainder).
	CodeUORemainder func(hdrs profile.Headers, buf []byte) []byte
	// Surprise reports a profile-specific reason to force IR this packet
	// (spec.md §4.1 downward transitions: "IP-ID becomes non-sequential",
	// "UDP checksum presence toggled").
	Surprise func(hdrs profile.Headers) bool
	// ComputeCRCStatic appends the profile's CRC-STATIC field set to buf:
	// the header fields that never change across the flow's lifetime (IP
	// version, addresses, protocol, UDP ports), taken directly from hdrs
	// rather than from the coded static chain (spec.md §4.1, §4.6).
	ComputeCRCStatic func(hdrs profile.Headers, buf []byte) []byte
	// ComputeCRCDynamic appends the profile's CRC-DYNAMIC field set to buf:
	// the header fields that may change packet to packet (IP-ID, TTL, UDP
	// checksum).
	ComputeCRCDynamic func(hdrs profile.Headers, buf []byte) []byte
}

// Context is the generic RFC3095 per-flow state (spec.md §3). Profiles
// embed *Context and supply Hooks at construction.
type Context struct {
	cfg   Config
	hooks Hooks
	crc   *crc.Tables

	mode  profile.Mode
	state profile.State

	sn       uint16
	snWindow *wlsb.Window

	// upwardStreak counts consecutive packets built without a detected
	// surprise in the current state; it drives IR->FO->SO advancement
	// (spec.md §4.1).
	upwardStreak int
	// refreshCounter counts packets since the last IR, for the periodic
	// refresh downward transition (spec.md §4.1, §9 Open Question on
	// packet-count vs timeout units — this engine uses packet count).
	refreshCounter int

	staticSent bool
	lastUsed   time.Time
}

// NewContext seeds a fresh context's SN from env.Random exactly once
// (spec.md §3 invariant 4) and starts in mode U, state IR.
func NewContext(cfg Config, env profile.Env, hooks Hooks) *Context {
	return &Context{
		cfg:      cfg,
		hooks:    hooks,
		crc:      env.CRC,
		mode:     profile.ModeU,
		state:    profile.StateIR,
		sn:       env.Random(),
		snWindow: wlsb.NewWindow(16, 1, 4),
	}
}

func (c *Context) Mode() profile.Mode   { return c.mode }
func (c *Context) State() profile.State { return c.state }

// Feedback applies spec.md §4.1's feedback-driven downward transitions and
// mode changes. Mode changes are only ever handed to us by package
// feedback once a CRC option has verified (spec.md §4.5); fb.HasMode being
// set is therefore sufficient authorization here.
func (c *Context) Feedback(fb profile.Feedback) {
	switch fb.AckType {
	case profile.AckTypeSTATICNACK:
		c.goToIR()
	case profile.AckTypeNACK:
		if c.state == profile.StateSO {
			c.state = profile.StateFO
			c.upwardStreak = 0
		}
	}
	if fb.HasMode {
		c.mode = fb.ModeRequest
	}
}

func (c *Context) goToIR() {
	c.state = profile.StateIR
	c.upwardStreak = 0
	c.refreshCounter = 0
	c.staticSent = false
}

// Encode runs one packet through the engine: detect surprises, advance the
// SN, pick the smallest sufficient packet type, and build its bytes.
func (c *Context) Encode(env profile.Env, hdrs profile.Headers, at time.Time, out []byte) (profile.Result, error) {
	c.lastUsed = at
	c.sn++

	// A fresh context cannot be "surprised": it has no established static
	// chain yet to diverge from, and its first packet always goes out as
	// IR regardless.
	surprised := c.staticSent && c.hooks.Surprise != nil && c.hooks.Surprise(hdrs)
	if c.refreshCounter >= c.cfg.PeriodicRefreshIRTimeout && c.cfg.PeriodicRefreshIRTimeout > 0 {
		surprised = true
	}
	if surprised {
		c.goToIR()
	}

	typ := c.pickType()

	w, err := cid.NewWriter(c.cfg.CIDVariant, c.cfg.CID, out)
	if err != nil {
		return profile.Result{}, err
	}

	crcTyp := crcTypeFor(typ)
	var chk uint8
	if c.crc != nil {
		chk = c.crc.Calculate(crcTyp, c.crcInput(hdrs), crc.Init(crcTyp))
	}

	var body []byte
	switch typ {
	case packet.TypeIR:
		body = append(body, chk)
		body = c.hooks.CodeStaticPart(hdrs, body)
		var dyn []byte
		dyn, _ = c.hooks.CodeDynamicPart(hdrs, nil)
		body = append(body, dyn...)
		c.staticSent = true
	case packet.TypeIRDYN:
		body = append(body, chk)
		body, _ = c.hooks.CodeDynamicPart(hdrs, body)
	case packet.TypeUO0:
		// SN and CRC are folded into the discriminator octet itself
		// (RFC 3095 §5.7.1); the body carries only whatever remainder the
		// profile still needs to send.
		if c.hooks.CodeUORemainder != nil {
			body = c.hooks.CodeUORemainder(hdrs, body)
		}
	case packet.TypeUO1:
		k := c.snWindow.MinK(uint32(c.sn))
		body = append(body, byte(wlsb.Encode(uint32(c.sn), k)))
		body = append(body, chk)
		if c.hooks.CodeUORemainder != nil {
			body = c.hooks.CodeUORemainder(hdrs, body)
		}
	case packet.TypeUOR2:
		k := c.snWindow.MinK(uint32(c.sn))
		ext := uor2Extension(k)
		body = append(body, byte(c.sn&(1<<uor2BaseBits-1))|(byte(ext)<<uor2BaseBits))
		body = append(body, codeUOR2Extension(ext, uint32(c.sn))...)
		body = append(body, chk)
		if c.hooks.CodeUORemainder != nil {
			body = c.hooks.CodeUORemainder(hdrs, body)
		}
	}

	bodyOffset := w.BodyOffset()
	if bodyOffset+len(body) > len(out) {
		return profile.Result{}, fmt.Errorf("generic: output buffer too small (need %d, have %d)", bodyOffset+len(body), len(out))
	}
	copy(out[bodyOffset:], body)

	disc := c.discriminatorFor(typ, chk)
	w.Commit(disc)

	total := bodyOffset + len(body)

	c.snWindow.Observe(uint32(c.sn), c.sn)
	c.refreshCounter++
	if !surprised {
		c.upwardStreak++
	} else {
		c.upwardStreak = 0
	}
	c.advanceState()

	return profile.Result{Type: typ, N: total}, nil
}

func (c *Context) pickType() packet.Type {
	switch c.state {
	case profile.StateIR:
		if c.staticSent {
			return packet.TypeIRDYN
		}
		return packet.TypeIR
	case profile.StateFO:
		return packet.TypeUOR2
	default: // StateSO
		if c.snWindow.MinK(uint32(c.sn+1)) <= 4 {
			return packet.TypeUO0
		}
		return packet.TypeUO1
	}
}

// uor2Extension picks the lowest-numbered UOR-2 extension (0-3) whose SN
// field width covers the bits MinK says are necessary, ties broken by
// shortest encoded length (spec.md §4.1's packet-type picker): extension 0
// needs no extra octet, and each extension above it adds exactly one more
// byte of additional SN bits, so picking the lowest sufficient number also
// picks the shortest encoding.
func uor2Extension(k int) int {
	extra := k - uor2BaseBits
	switch {
	case extra <= 0:
		return 0
	case extra <= 8:
		return 1
	case extra <= 16:
		return 2
	default:
		return 3
	}
}

// codeUOR2Extension appends the ext extra bytes of SN bits a chosen UOR-2
// extension carries beyond the base octet's uor2BaseBits, most significant
// byte first.
func codeUOR2Extension(ext int, sn uint32) []byte {
	if ext == 0 {
		return nil
	}
	shifted := sn >> uor2BaseBits
	out := make([]byte, ext)
	for i := 0; i < ext; i++ {
		out[ext-1-i] = byte(shifted >> uint(8*i))
	}
	return out
}

// crcInput builds the bytes a header CRC is computed over: the profile's
// CRC-STATIC and CRC-DYNAMIC field sets taken directly from hdrs rather
// than from the coded chain bytes, since the CRC protects the
// decompressor's reconstructed full header regardless of which chains this
// particular packet carries on the wire (spec.md §4.1, §4.6).
func (c *Context) crcInput(hdrs profile.Headers) []byte {
	var buf []byte
	if c.hooks.ComputeCRCStatic != nil {
		buf = c.hooks.ComputeCRCStatic(hdrs, buf)
	}
	if c.hooks.ComputeCRCDynamic != nil {
		buf = c.hooks.ComputeCRCDynamic(hdrs, buf)
	}
	return buf
}

// crcTypeFor picks the header CRC width a packet type carries: CRC-3 for
// UO-0's single octet, CRC-7 for UO-1 and UOR-2, CRC-8 for IR and IR-DYN
// (spec.md §4.6, scenario S2).
func crcTypeFor(typ packet.Type) crc.Type {
	switch typ {
	case packet.TypeUO0:
		return crc.Type3
	case packet.TypeUO1, packet.TypeUOR2:
		return crc.Type7
	default:
		return crc.Type8
	}
}

func (c *Context) advanceState() {
	if c.upwardStreak < c.cfg.OARepetitionsNR {
		return
	}
	switch c.state {
	case profile.StateIR:
		c.state = profile.StateFO
		c.upwardStreak = 0
	case profile.StateFO:
		c.state = profile.StateSO
		c.upwardStreak = 0
	}
}

// discriminatorFor builds the single discriminator byte a packet type
// commits. UO-0 is restricted to one octet total (RFC 3095 §5.7.1), so its
// SN and CRC bits are folded directly into it as 0|SN(4)|CRC(3); every
// other packet type carries its SN/CRC/extension bits in the body and only
// needs its constant marker bits here.
func (c *Context) discriminatorFor(typ packet.Type, chk uint8) byte {
	switch typ {
	case packet.TypeIR:
		return packet.DiscriminatorIR
	case packet.TypeIRDYN:
		return packet.DiscriminatorIR | packet.DiscriminatorIRDYNFlag
	case packet.TypeUO0:
		sn4 := byte(wlsb.Encode(uint32(c.sn), 4)) & 0x0f
		return (sn4 << 3) | (chk & 0x07)
	case packet.TypeUO1:
		return 0x80
	default: // UOR-2
		return 0xc0
	}
}

// Close releases the context. The generic engine holds no resources
// beyond Go-managed memory.
func (c *Context) Close() {}
