/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package uncompressed implements the Uncompressed passthrough profile
// (spec.md §4.3), grounded on the original c_uncompressed.c: a two-state
// (IR/FO) machine with a startup IR run, periodic forced refresh while in
// U-mode, and unconditional STATIC-NACK-driven reset to IR.
package uncompressed

import (
	"fmt"
	"time"

	"github.com/MartinFretigne/rohc/internal/cid"
	"github.com/MartinFretigne/rohc/internal/crc"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/profile"
)

// maxIRCount is MAX_IR_COUNT from c_uncompressed.c: the number of
// consecutive startup IR packets before the profile advances to FO.
const maxIRCount = 3

type Config struct {
	CIDVariant               cid.Variant
	CID                      int
	PeriodicRefreshIRTimeout int
}

// Profile implements profile.Profile for ROHC profile 0x0000
// (Uncompressed).
type Profile struct {
	Config Config
}

func New(cidVariant cid.Variant, cidValue, periodicRefreshIRTimeout int) *Profile {
	return &Profile{Config: Config{CIDVariant: cidVariant, CID: cidValue, PeriodicRefreshIRTimeout: periodicRefreshIRTimeout}}
}

func (p *Profile) ID() packet.ProfileID { return packet.ProfileUncompressed }

// Match accepts any headers: the Uncompressed profile never inspects flow
// identity, only CID selects the context (spec.md §4.3).
func (p *Profile) Match(ctx profile.Context, hdrs profile.Headers) bool {
	_, ok := ctx.(*Context)
	return ok
}

// Applicable is unconditionally true: Uncompressed is the catch-all
// fallback profile (spec.md §4.3).
func (p *Profile) Applicable(hdrs profile.Headers) bool {
	return true
}

func (p *Profile) NewContext(env profile.Env, hdrs profile.Headers) profile.Context {
	return &Context{
		cfg:   p.Config,
		crc:   env.CRC,
		mode:  profile.ModeU,
		state: profile.StateIR,
	}
}

// Context holds the three counters from spec.md §3's Uncompressed
// payload: ir_count, normal_count, go_back_ir_count.
type Context struct {
	cfg Config
	crc *crc.Tables

	mode  profile.Mode
	state profile.State

	irCount       int
	normalCount   int
	goBackIRCount int
}

func (c *Context) Mode() profile.Mode   { return c.mode }
func (c *Context) State() profile.State { return c.state }

// Feedback: STATIC-NACK unconditionally resets to IR; a mode change is
// only honored when fb.HasMode is set, which package feedback guarantees
// only happens once a CRC option has verified (spec.md §4.3, §4.5).
func (c *Context) Feedback(fb profile.Feedback) {
	if fb.AckType == profile.AckTypeSTATICNACK {
		c.goToIR()
	}
	if fb.HasMode {
		c.mode = fb.ModeRequest
	}
}

func (c *Context) goToIR() {
	c.state = profile.StateIR
	c.irCount = 0
	c.goBackIRCount = 0
}

// decide picks this packet's type and reports whether it is a one-shot
// periodic refresh (which does not restart the startup IR run — only a
// single IR packet is forced before FO resumes).
func (c *Context) decide() (packet.Type, bool) {
	if c.state == profile.StateIR {
		return packet.TypeUncompressedIR, false
	}

	if c.mode == profile.ModeU {
		c.goBackIRCount++
		if c.goBackIRCount >= c.cfg.PeriodicRefreshIRTimeout && c.cfg.PeriodicRefreshIRTimeout > 0 {
			c.goBackIRCount = 0
			return packet.TypeUncompressedIR, true
		}
	}
	return packet.TypeNormal, false
}

func (c *Context) Encode(env profile.Env, hdrs profile.Headers, at time.Time, out []byte) (profile.Result, error) {
	if len(hdrs.Raw) == 0 {
		return profile.Result{}, fmt.Errorf("uncompressed: empty packet")
	}

	typ, refresh := c.decide()

	w, err := cid.NewWriter(c.cfg.CIDVariant, c.cfg.CID, out)
	if err != nil {
		return profile.Result{}, err
	}
	bodyOffset := w.BodyOffset()

	var body []byte
	switch typ {
	case packet.TypeUncompressedIR:
		// profile byte (always 0, ROHC_PROFILE_UNCOMPRESSED) followed by
		// a CRC-8 computed over the discriminator+profile prefix, then the
		// whole uncompressed packet.
		prefix := []byte{packet.DiscriminatorUncompressedIR, byte(packet.ProfileUncompressed)}
		chk := c.crc.Calculate(crc.Type8, prefix, crc.Init8)
		body = append(prefix[1:], chk)
		body = append(body, hdrs.Raw...)
	case packet.TypeNormal:
		// the packet's first octet is the discriminator; the rest follows
		// the CID framing unchanged.
		body = hdrs.Raw
	}

	var total int
	switch typ {
	case packet.TypeUncompressedIR:
		if bodyOffset+len(body) > len(out) {
			return profile.Result{}, fmt.Errorf("uncompressed: output buffer too small")
		}
		w.Commit(packet.DiscriminatorUncompressedIR)
		copy(out[bodyOffset:], body)
		total = bodyOffset + len(body)
	case packet.TypeNormal:
		if bodyOffset+len(body)-1 > len(out) {
			return profile.Result{}, fmt.Errorf("uncompressed: output buffer too small")
		}
		w.Commit(body[0])
		copy(out[bodyOffset:], body[1:])
		total = bodyOffset + len(body) - 1
	}

	if typ == packet.TypeUncompressedIR && !refresh {
		c.irCount++
		if c.irCount >= maxIRCount {
			c.state = profile.StateFO
			c.irCount = 0
			c.goBackIRCount = 0
		}
	} else if typ == packet.TypeNormal {
		c.normalCount++
	}

	return profile.Result{Type: typ, N: total}, nil
}

func (c *Context) Close() {}
