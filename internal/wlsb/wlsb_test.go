/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package wlsb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestMinK_RoundTrip is the property named in spec.md §8 item 5: for any
// single confirmed reference and any value within reach, the k that MinK
// reports is enough for Decode to recover the exact value.
func TestMinK_RoundTrip(t *testing.T) {
	rapid.Check(t, func(tt *rapid.T) {
		const bitWidth = 16
		shift := rapid.IntRange(0, 1).Draw(tt, "shift")
		vref := rapid.Uint32Range(0, 1<<bitWidth-1).Draw(tt, "vref")

		w := NewWindow(bitWidth, shift, 4)
		w.Observe(vref, 0)

		// stay within the field's modulus so the value is always reachable
		delta := rapid.Uint32Range(0, 1<<15-1).Draw(tt, "delta")
		value := uint32((uint64(vref) + uint64(delta)) % (1 << bitWidth))

		k := w.MinK(value)
		bits := Encode(value, k)
		got := Decode(bits, k, vref, shift, bitWidth)

		require.Equal(tt, value, got, "k=%d vref=%d shift=%d value=%d", k, vref, shift, value)
	})
}

// TestMinK_Monotonic checks that a larger window (more history to satisfy)
// never yields a smaller k than a window containing only the most recent
// value, matching the "every value in the window must be recoverable"
// requirement in spec.md §3.
func TestMinK_Monotonic(t *testing.T) {
	rapid.Check(t, func(tt *rapid.T) {
		const bitWidth = 16
		values := rapid.SliceOfN(rapid.Uint32Range(0, 1<<bitWidth-1), 1, 6).Draw(tt, "values")

		full := NewWindow(bitWidth, 1, len(values))
		last := NewWindow(bitWidth, 1, 1)
		for i, v := range values {
			full.Observe(v, uint16(i))
			last.Observe(v, uint16(i))
		}

		target := values[len(values)-1]
		require.GreaterOrEqual(tt, full.MinK(target), last.MinK(target))
	})
}

func TestObserve_ConfirmationsAccumulate(t *testing.T) {
	w := NewWindow(16, 1, 4)
	w.Observe(10, 0)
	w.Observe(10, 1)
	w.Observe(10, 2)

	entries := w.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, 3, entries[0].Confirmations)
	require.True(t, w.Confirmed(3))
	require.False(t, w.Confirmed(4))
}

func TestObserve_ChangeStartsNewEntry(t *testing.T) {
	w := NewWindow(16, 1, 2)
	w.Observe(10, 0)
	w.Observe(10, 1)
	w.Observe(11, 2)

	entries := w.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, uint32(10), entries[0].Value)
	require.Equal(t, uint32(11), entries[1].Value)
	require.Equal(t, 1, entries[1].Confirmations)
}

func TestObserve_EvictsBeyondDepth(t *testing.T) {
	w := NewWindow(16, 1, 2)
	w.Observe(1, 0)
	w.Observe(2, 1)
	w.Observe(3, 2)

	entries := w.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, uint32(2), entries[0].Value)
	require.Equal(t, uint32(3), entries[1].Value)
}
