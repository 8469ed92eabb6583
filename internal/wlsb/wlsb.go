/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package wlsb implements window-based least-significant-bit encoding for
// monotonic header fields (RFC 3095 §4.5): sequence numbers, IP-ID, and
// timestamps. A Window tracks the recent history of a field's values; MinK
// finds the smallest bit width that still lets every value in that history
// serve as the decompressor's reference point, and Decode recovers the
// value an decompressor would from a transmitted k-bit fragment.
package wlsb

// Entry is one sample in a field's W-LSB history. Confirmations counts how
// many consecutive packets have carried this exact value since it last
// changed; a compressor only trusts an entry as a usable decode reference
// once Confirmations reaches its configured oa_repetitions_nr (the
// "optimistic approach" acknowledgement, spec.md §3's Window invariant).
type Entry struct {
	Value         uint32
	RefSN         uint16
	Confirmations int
}

// Window is a depth-bounded, oldest-first history of a field's values.
type Window struct {
	// BitWidth is the field's natural width (16 for SN and IP-ID, as used
	// by the profiles in this repository).
	BitWidth uint
	// Shift is the RFC 3095 W-LSB "p" parameter for this field (e.g. p=1
	// for SN per spec.md §4.1).
	Shift int
	// Depth bounds how many distinct values are retained; older entries
	// are evicted once exceeded.
	Depth int

	entries []Entry
}

// NewWindow builds an empty window for a field of the given bit width,
// W-LSB shift parameter and retention depth.
func NewWindow(bitWidth uint, shift, depth int) *Window {
	return &Window{BitWidth: bitWidth, Shift: shift, Depth: depth}
}

// Observe records one packet's value for this field. A repeat of the most
// recent value increments its confirmation count in place; any other value
// starts a new entry, evicting the oldest entry once Depth is exceeded.
func (w *Window) Observe(value uint32, sn uint16) {
	if n := len(w.entries); n > 0 && w.entries[n-1].Value == value {
		w.entries[n-1].Confirmations++
		return
	}

	w.entries = append(w.entries, Entry{Value: value, RefSN: sn, Confirmations: 1})
	if w.Depth > 0 && len(w.entries) > w.Depth {
		w.entries = w.entries[len(w.entries)-w.Depth:]
	}
}

// Entries returns the current history, oldest first. The returned slice is
// owned by the caller; it is a copy.
func (w *Window) Entries() []Entry {
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Confirmed reports whether every entry in the window has been sent at
// least oaRepetitionsNR times, i.e. the decompressor can be trusted to hold
// every one of them as a possible reference (spec.md §3 Window invariant).
func (w *Window) Confirmed(oaRepetitionsNR int) bool {
	for _, e := range w.entries {
		if e.Confirmations < oaRepetitionsNR {
			return false
		}
	}
	return true
}

// MinK returns the smallest k in [1, BitWidth] such that value is uniquely
// recoverable, via Decode, against every entry currently in the window
// acting as the decompressor's v_ref (spec.md §4.1, "W-LSB encoding"). It
// returns BitWidth if no smaller k suffices, which is always safe since a
// full-width field is its own unambiguous encoding.
func (w *Window) MinK(value uint32) int {
	for k := 1; k < int(w.BitWidth); k++ {
		if w.fits(value, k) {
			return k
		}
	}
	return int(w.BitWidth)
}

func (w *Window) fits(value uint32, k int) bool {
	span := uint32(1)<<uint(k) - 1
	for _, e := range w.entries {
		lo := wrap(int64(e.Value)-int64(w.Shift), w.BitWidth)
		if !inInterval(value, lo, span, w.BitWidth) {
			return false
		}
	}
	return true
}

// Encode returns the low k bits of value, the form actually placed on the
// wire.
func Encode(value uint32, k int) uint32 {
	return value & (uint32(1)<<uint(k) - 1)
}

// Decode recovers the full field value from its low k bits, given the
// decompressor's current reference value vref and the field's W-LSB shift
// p, by choosing the value in the interpretation interval
// [vref-p, vref+2^k-1-p] whose low k bits equal bits (RFC 3095 §4.5.1).
func Decode(bits uint32, k int, vref uint32, p int, bitWidth uint) uint32 {
	lo := wrap(int64(vref)-int64(p), bitWidth)
	span := uint32(1)<<uint(k) - 1
	mask := uint32(1)<<uint(k) - 1
	modulus := uint64(1) << bitWidth

	candidate := (lo &^ mask) | (bits & mask)
	steps := modulus/uint64(mask+1) + 1
	for i := uint64(0); i < steps; i++ {
		if inInterval(candidate, lo, span, bitWidth) {
			return candidate
		}
		candidate = uint32((uint64(candidate) + uint64(mask) + 1) % modulus)
	}
	return candidate
}

// wrap reduces v into [0, 2^bitWidth) under modular arithmetic.
func wrap(v int64, bitWidth uint) uint32 {
	modulus := int64(1) << bitWidth
	v %= modulus
	if v < 0 {
		v += modulus
	}
	return uint32(v)
}

// inInterval reports whether value lies in the bitWidth-modular interval
// starting at lo and spanning span+1 values, e.g. [lo, lo+span] wrapping
// around 2^bitWidth.
func inInterval(value, lo, span uint32, bitWidth uint) bool {
	modulus := uint32(1) << bitWidth
	offset := (value - lo + modulus) % modulus
	return offset <= span
}
