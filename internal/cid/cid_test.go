/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package cid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWriter_SmallCIDZero_NoAddOctet is spec.md §8 property 6: CID 0 in a
// small-CID context never emits an Add-CID octet.
func TestWriter_SmallCIDZero_NoAddOctet(t *testing.T) {
	buf := make([]byte, 4)
	w, err := NewWriter(Small, 0, buf)
	require.NoError(t, err)
	require.Equal(t, 0, w.HeaderLen())
	require.Equal(t, 1, w.BodyOffset())

	w.Commit(0xfc)
	require.Equal(t, byte(0xfc), buf[0])
}

func TestWriter_SmallCIDNonZero_AddOctet(t *testing.T) {
	buf := make([]byte, 4)
	w, err := NewWriter(Small, 5, buf)
	require.NoError(t, err)
	require.Equal(t, 1, w.HeaderLen())
	require.Equal(t, 2, w.BodyOffset())
	require.Equal(t, byte(0xe5), buf[0])

	w.Commit(0x3f)
	require.Equal(t, byte(0x3f), buf[1])

	gotCID, ok := ReadAddCID(buf[0])
	require.True(t, ok)
	require.Equal(t, 5, gotCID)
}

// TestWriter_LargeCID_OneByte checks spec.md §4.4's large-CID framing:
// discriminator first, then the self-delimiting CID, then the body.
func TestWriter_LargeCID_OneByte(t *testing.T) {
	buf := make([]byte, 4)
	w, err := NewWriter(Large, 100, buf)
	require.NoError(t, err)
	require.Equal(t, 0, w.HeaderLen())
	require.Equal(t, 2, w.BodyOffset())

	w.Commit(0xfc)
	require.Equal(t, byte(0xfc), buf[0])

	gotCID, n, err := ReadLargeCID(buf[1:])
	require.NoError(t, err)
	require.Equal(t, 100, gotCID)
	require.Equal(t, 1, n)
}

func TestWriter_LargeCID_TwoBytes(t *testing.T) {
	buf := make([]byte, 4)
	w, err := NewWriter(Large, 1000, buf)
	require.NoError(t, err)
	require.Equal(t, 0, w.HeaderLen())
	require.Equal(t, 3, w.BodyOffset())

	w.Commit(0xfc)
	require.Equal(t, byte(0xfc), buf[0])

	gotCID, n, err := ReadLargeCID(buf[1:])
	require.NoError(t, err)
	require.Equal(t, 1000, gotCID)
	require.Equal(t, 2, n)
}

func TestNewWriter_RejectsOutOfRange(t *testing.T) {
	buf := make([]byte, 4)
	_, err := NewWriter(Small, 16, buf)
	require.Error(t, err)

	_, err = NewWriter(Large, 1<<14, buf)
	require.Error(t, err)
}

func TestReadAddCID_RejectsNonAddCIDByte(t *testing.T) {
	_, ok := ReadAddCID(0x3f)
	require.False(t, ok)
}
