/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package crc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculate_DeterministicAndStable(t *testing.T) {
	tables := NewTables()

	tests := []struct {
		name string
		typ  Type
	}{
		{"crc3", Type3},
		{"crc7", Type7},
		{"crc8", Type8},
	}

	buf := []byte{0x45, 0x00, 0x00, 0x1c, 0xde, 0xad, 0xbe, 0xef}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := tables.Calculate(tt.typ, buf, Init(tt.typ))
			second := tables.Calculate(tt.typ, buf, Init(tt.typ))
			require.Equal(t, first, second, "CRC must be a pure function of (buf, init)")

			mask := uint8((1 << uint(Width(tt.typ))) - 1)
			require.Equal(t, first, first&mask, "result must fit in the declared width")
		})
	}
}

func TestCalculate_DetectsSingleByteChange(t *testing.T) {
	tables := NewTables()
	a := []byte{0x01, 0x02, 0x03, 0x04}
	b := []byte{0x01, 0x02, 0x03, 0x05}

	for _, typ := range []Type{Type3, Type7, Type8} {
		require.NotEqual(t, tables.Calculate(typ, a, Init(typ)), tables.Calculate(typ, b, Init(typ)))
	}
}

func TestCalculate_EmptyBufferReturnsInit(t *testing.T) {
	tables := NewTables()
	for _, typ := range []Type{Type3, Type7, Type8} {
		require.Equal(t, Init(typ), tables.Calculate(typ, nil, Init(typ)))
	}
}

func TestNewTables_IndependentInstances(t *testing.T) {
	a := NewTables()
	b := NewTables()
	require.Equal(t, a.Table(Type8), b.Table(Type8), "tables are deterministic given the fixed polynomials")
}
