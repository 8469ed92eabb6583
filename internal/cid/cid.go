/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package cid implements the ROHC CID (Context Identifier) encodings:
// small-CID Add-Octet and large-CID self-delimiting (spec.md §4.4). Both
// variants are expressed as a Writer so a packet builder can reserve the
// byte(s) the discriminator will occupy, write the rest of the packet, and
// come back to fill the reserved region once the packet's final shape is
// known (spec.md §9, "packet-under-build buffer with positional
// back-fill").
package cid

import "fmt"

// Variant selects which CID encoding a compressor uses.
type Variant int

const (
	// Small supports CID 0..15 via a single Add-CID octet, omitted for
	// CID 0.
	Small Variant = iota
	// Large supports CID 0..16383 via a 1- or 2-byte self-delimiting
	// integer placed after the discriminator byte.
	Large
)

// MaxCID returns the largest CID value the variant can address.
func (v Variant) MaxCID() int {
	if v == Large {
		return 1<<14 - 1
	}
	return 15
}

// Writer stages a packet's CID framing and the discriminator byte it
// carries, reserving space for the discriminator before the rest of the
// packet's length is known. Small-CID framing puts the discriminator last
// (Add-CID octet, then discriminator, then body); large-CID framing puts it
// first (discriminator, then the self-delimiting CID, then body) per
// spec.md §4.4.
type Writer struct {
	variant Variant
	cid     int
	buf     []byte
	// discAt is the index in buf reserved for the discriminator byte.
	discAt int
	// bodyAt is the index the packet body starts at, i.e. the first index
	// past the discriminator and anything written after it.
	bodyAt int
}

// NewWriter validates cid against variant and returns a Writer ready to
// begin staging a packet into buf. buf is written in place starting at
// offset 0; the caller passes a buffer at least large enough for the CID
// framing plus one discriminator byte.
func NewWriter(variant Variant, cid int, buf []byte) (*Writer, error) {
	if cid < 0 || cid > variant.MaxCID() {
		return nil, fmt.Errorf("cid: %d out of range for variant (max %d)", cid, variant.MaxCID())
	}

	w := &Writer{variant: variant, cid: cid, buf: buf}

	switch variant {
	case Small:
		if cid != 0 {
			w.buf[0] = 0xe0 | byte(cid) // 0b1110_CCCC, add-CID octet
			w.discAt = 1
		}
		// CID 0: no Add-CID octet, discriminator goes straight at index 0.
		w.bodyAt = w.discAt + 1
	case Large:
		// Discriminator comes first; the large CID is inserted between it
		// and the rest of the packet.
		w.discAt = 0
		n := writeLargeCID(w.buf[1:], cid)
		w.bodyAt = 1 + n
	}

	return w, nil
}

// writeLargeCID encodes cid as a self-delimiting 1- or 2-byte integer
// (7 payload bits per byte, MSB set on every byte but the last) and
// returns the number of bytes written.
func writeLargeCID(buf []byte, cid int) int {
	if cid < 0x80 {
		buf[0] = byte(cid)
		return 1
	}
	buf[0] = byte(cid&0x7f) | 0x80
	buf[1] = byte(cid >> 7)
	return 2
}

// DiscriminatorOffset returns the index in the buffer the packet's
// discriminator byte starts at.
func (w *Writer) DiscriminatorOffset() int {
	return w.discAt
}

// Commit writes the final discriminator byte into its reserved slot.
func (w *Writer) Commit(discriminator byte) {
	w.buf[w.discAt] = discriminator
}

// HeaderLen returns the number of bytes in buf that precede the
// discriminator byte (0 for small-CID with CID 0 or any large CID, 1 for an
// Add-CID octet).
func (w *Writer) HeaderLen() int {
	return w.discAt
}

// BodyOffset returns the index the packet body should be written at: past
// the discriminator byte and, for large CIDs, the self-delimiting CID bytes
// that follow it.
func (w *Writer) BodyOffset() int {
	return w.bodyAt
}

// ReadLargeCID decodes a self-delimiting large CID starting at buf[0],
// returning the CID value and the number of bytes it occupied.
func ReadLargeCID(buf []byte) (cid int, n int, err error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("cid: empty buffer")
	}
	if buf[0]&0x80 == 0 {
		return int(buf[0]), 1, nil
	}
	if len(buf) < 2 {
		return 0, 0, fmt.Errorf("cid: truncated large CID")
	}
	return int(buf[0]&0x7f) | int(buf[1])<<7, 2, nil
}

// ReadAddCID reports whether b is an Add-CID octet (0b1110_CCCC) and, if
// so, the CID it carries.
func ReadAddCID(b byte) (cid int, ok bool) {
	if b&0xf0 != 0xe0 {
		return 0, false
	}
	return int(b & 0x0f), true
}
