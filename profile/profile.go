/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package profile defines the contract every ROHC compression profile
// implements, and the mode/state vocabulary shared across profiles
// (spec.md §3, §4.1, §9 "profile dispatch via function-pointer tables
// becomes a closed set of profile variants with a common behavioral
// contract").
package profile

import (
	"time"

	"github.com/MartinFretigne/rohc/internal/crc"
	"github.com/MartinFretigne/rohc/packet"
)

// Mode is the ROHC operating mode of a context (spec.md GLOSSARY).
type Mode int

const (
	// ModeU is Unidirectional: no feedback channel is assumed.
	ModeU Mode = iota
	// ModeO is Bidirectional Optimistic: feedback may arrive but sending
	// does not wait for it.
	ModeO
	// ModeR is Bidirectional Reliable: every transition is acknowledged.
	ModeR
)

// State is a context's position in the IR/FO/SO state machine (spec.md
// §4.1).
type State int

const (
	StateIR State = iota
	StateFO
	StateSO
)

func (s State) String() string {
	switch s {
	case StateIR:
		return "IR"
	case StateFO:
		return "FO"
	default:
		return "SO"
	}
}

// Headers is the parsed representation of one uncompressed packet a
// profile is asked to compress. Only the fields the implemented profiles
// (Uncompressed, UDP) need are present; a richer header set belongs to the
// profiles that would consume it, not to this shared contract.
type Headers struct {
	// Raw is the full uncompressed packet bytes, IP header onward. Every
	// profile needs at least this to build the Uncompressed profile's
	// Normal packet (spec.md §4.3) and to run check_context.
	Raw []byte

	IPVersion  int
	IPProtocol int
	// SrcAddr/DstAddr hold the raw address bytes (4 or 16 long).
	SrcAddr []byte
	DstAddr []byte
	TTL     int
	IPID    uint16

	HasUDP      bool
	UDPSrcPort  uint16
	UDPDstPort  uint16
	UDPChecksum uint16
}

// Result is what a profile produces for one packet.
type Result struct {
	Type packet.Type
	N    int
}

// Feedback is a parsed feedback packet, handed to a profile's Feedback
// method once the core feedback parser (package feedback) has validated
// its CRC and walked its options.
type Feedback struct {
	AckType      AckType
	ModeRequest  Mode
	HasMode      bool
	SN           uint16
	HasSN        bool
	CRCVerified  bool
}

// AckType is the feedback acknowledgement kind (spec.md §4.5).
type AckType int

const (
	AckTypeACK AckType = iota
	AckTypeNACK
	AckTypeSTATICNACK
	AckTypeReserved
)

// Env is the environment a profile's hooks run under: shared CRC tables
// and the random callback used to seed new contexts (spec.md §3, "a
// reference to the compressor").
type Env struct {
	CRC    *crc.Tables
	Random func() uint16
}

// Profile is the behavioral contract every compression profile
// implements. check_context / create / encode / feedback / destroy from
// spec.md §2's data-flow diagram map onto Match / NewContext / Context
// methods below.
type Profile interface {
	ID() packet.ProfileID

	// Match reports whether hdrs belongs to the flow ctx was created for
	// (spec.md §2, profile.check_context).
	Match(ctx Context, hdrs Headers) bool

	// Applicable reports whether this profile can create a context for
	// hdrs at all, used to route a flow with no existing context to the
	// right profile.
	Applicable(hdrs Headers) bool

	// NewContext creates a fresh per-flow context for hdrs.
	NewContext(env Env, hdrs Headers) Context
}

// Context is the per-flow state a profile maintains across packets.
type Context interface {
	Mode() Mode
	State() State

	// Encode compresses hdrs into out, returning the result or an error.
	// at is the packet's timestamp. No profile in this repository bases
	// its periodic refresh on it: both count packets (spec.md §9 Open
	// Question on packet-count vs timeout units).
	Encode(env Env, hdrs Headers, at time.Time, out []byte) (Result, error)

	// Feedback applies a parsed feedback packet's effects to mode/state.
	Feedback(fb Feedback)

	// Close releases any resources the context holds. Most profiles in
	// this repository hold none beyond Go-managed memory; Close exists to
	// satisfy spec.md §5's "every context ... must be released by a
	// matching destroy hook".
	Close()
}
