/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package feedback parses ROHC feedback packets (spec.md §4.5): type-1
// inline ACKs and type-2 packets carrying a TLV option list, including the
// CRC option that gates whether a requested mode change is trusted.
package feedback

import (
	"fmt"

	"github.com/MartinFretigne/rohc/internal/crc"
	"github.com/MartinFretigne/rohc/profile"
)

// Option codes recognized in a type-2 feedback's TLV list (spec.md §4.5).
// Options 2 (Reject) and 7 (Loss) are named but never acted on: the
// original source carries them commented out, and spec.md §9's Open
// Question says to document rather than invent semantics for them.
const (
	OptionCRC        = 1
	OptionReject     = 2
	OptionSNNotValid = 3
	OptionSN         = 4
	OptionLoss       = 7
)

// Parse validates buf as a feedback packet of the given ROHC ack type and
// returns the effects a profile context should apply. A malformed buffer
// (too short to contain even a type-1 byte) is the only case Parse
// returns an error for; every other rejection (bad CRC, unknown TLV
// overrun) is reported via ok=false with no error, matching spec.md §7's
// "feedback discarded: silent drop, never fatal".
func Parse(buf []byte, ackType profile.AckType) (fb profile.Feedback, ok bool, err error) {
	if len(buf) == 0 {
		return profile.Feedback{}, false, fmt.Errorf("feedback: empty buffer")
	}

	fb.AckType = ackType

	if len(buf) == 1 {
		// Type-1: a single byte carrying 4 SN bits inline, no options.
		fb.SN = uint16(buf[0] & 0x0f)
		fb.HasSN = true
		return fb, true, nil
	}

	return parseType2(buf, ackType)
}

func parseType2(buf []byte, ackType profile.AckType) (profile.Feedback, bool, error) {
	if len(buf) < 2 {
		return profile.Feedback{}, false, fmt.Errorf("feedback: type-2 packet too short")
	}

	fb := profile.Feedback{AckType: ackType}
	modeBits := (buf[0] >> 4) & 0x03
	fb.ModeRequest = profile.Mode(modeBits)
	fb.HasMode = true

	snHigh := buf[0] & 0x0f
	snMid := buf[1]
	fb.SN = uint16(snHigh)<<8 | uint16(snMid)
	fb.HasSN = true

	crcOK, crcPresent, ok := walkOptions(buf)
	if !ok {
		return profile.Feedback{}, false, nil
	}

	fb.CRCVerified = crcPresent && crcOK
	if crcPresent && !crcOK {
		// spec.md §4.5: a CRC mismatch discards the feedback entirely.
		return profile.Feedback{}, false, nil
	}

	// Mode change is only applied when ackType is ACK or NACK and a valid
	// CRC option was present (spec.md §4.5); STATIC-NACK always forces IR
	// regardless of CRC and is not a mode change.
	if !(crcPresent && crcOK && (ackType == profile.AckTypeACK || ackType == profile.AckTypeNACK)) {
		fb.HasMode = false
	}

	return fb, true, nil
}

// walkOptions scans the TLV option list starting at buf[2], zeroing and
// verifying a CRC option in place if one is present. It reports whether
// the walk was well-formed (never overran the buffer) and, if a CRC
// option was found, whether it verified.
func walkOptions(buf []byte) (crcOK bool, crcPresent bool, wellFormed bool) {
	tables := crc.NewTables()
	i := 2
	crcByteIdx := -1

	for i < len(buf) {
		code := buf[i] >> 4
		length := int(buf[i]&0x0f) + 1
		if i+1+length > len(buf) {
			return false, false, false
		}

		switch code {
		case OptionCRC:
			if i+1 >= len(buf) {
				return false, false, false
			}
			crcPresent = true
			crcByteIdx = i + 1
		case OptionSN, OptionSNNotValid, OptionReject, OptionLoss:
			// recognized but carry no further parsing obligation here;
			// the option length field alone is enough to skip them.
		}

		i += 1 + length
	}
	if i != len(buf) {
		return false, false, false
	}

	if !crcPresent {
		return false, false, true
	}

	captured := buf[crcByteIdx]
	buf[crcByteIdx] = 0
	computed := tables.Calculate(crc.Type8, buf, crc.Init8)
	buf[crcByteIdx] = captured

	return computed == captured, true, true
}
